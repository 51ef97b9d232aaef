/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package model

import (
	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/repository"
)

// Entity names used in schemas and error messages.
const (
	EntityCompany      = "Company"
	EntityEmployee     = "Employee"
	EntityVehicle      = "Vehicle"
	EntityClient       = "Client"
	EntityServiceOrder = "ServiceOrder"
)

// Schemas declares the fields and relations criteria may refer to.
// Removing a company is refused while it still owns vehicles, and a vehicle
// with service history cannot be removed.
func Schemas() []*repository.EntitySchema {
	return []*repository.EntitySchema{
		repository.NewSchema[Company](EntityCompany, "companies").
			Columns("name").
			HasMany("vehicles", EntityVehicle, "company_id").OnDelete(repository.DeleteRestrict).
			HasMany("employees", EntityEmployee, "company_id").OnDelete(repository.DeleteSetNull).
			Build(),

		repository.NewSchema[Employee](EntityEmployee, "employees").
			Columns("name", "role").
			Field("companyId", "company_id").
			Field("supervisorId", "supervisor_id").
			BelongsTo("company", EntityCompany, "company_id").
			BelongsTo("supervisor", EntityEmployee, "supervisor_id").
			HasMany("supervised", EntityEmployee, "supervisor_id").OnDelete(repository.DeleteSetNull).
			ManyToMany("vehicles", EntityVehicle, "vehicle_drivers", "driver_id", "vehicle_id").
			Build(),

		repository.NewSchema[Vehicle](EntityVehicle, "vehicles").
			Columns("plate", "make").
			Field("companyId", "company_id").
			BelongsTo("company", EntityCompany, "company_id").
			ManyToMany("drivers", EntityEmployee, "vehicle_drivers", "vehicle_id", "driver_id").
			HasMany("services", EntityServiceOrder, "vehicle_id").OnDelete(repository.DeleteRestrict).
			Build(),

		repository.NewSchema[Client](EntityClient, "clients").
			Columns("name", "email").
			HasMany("orders", EntityServiceOrder, "client_id").OnDelete(repository.DeleteSetNull).
			Build(),

		repository.NewSchema[ServiceOrder](EntityServiceOrder, "service_orders").
			Columns("description", "price", "status").
			Field("vehicleId", "vehicle_id").
			Field("clientId", "client_id").
			BelongsTo("vehicle", EntityVehicle, "vehicle_id").
			BelongsTo("client", EntityClient, "client_id").
			Build(),
	}
}

// NewRegistry returns a validated registry holding Schemas.
func NewRegistry() (*repository.Registry, error) {
	registry := repository.NewRegistry()
	if err := registry.Register(Schemas()...); err != nil {
		return nil, err
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// RegisterModels adds the fleet tables to the database model registry.
// Referenced tables get lower priorities so they are created first. The
// vehicle_drivers join model comes before everything else because bun
// resolves many-to-many relations through it.
func RegisterModels() {
	database.RegisteredModel(database.NewModelAdapter((*VehicleDriver)(nil), 5))
	database.RegisteredModel(database.NewModelAdapter((*Company)(nil), 10))
	database.RegisteredModel(database.NewModelAdapter((*Client)(nil), 10))
	database.RegisteredModel(database.NewModelAdapter((*Employee)(nil), 20))
	database.RegisteredModel(database.NewModelAdapter((*Vehicle)(nil), 30))
	database.RegisteredModel(database.NewModelAdapter((*ServiceOrder)(nil), 40))
}

// Register adds the fleet models and the foreign keys implied by registry
// to the database layer, ahead of connecting and migrating.
func Register(registry *repository.Registry) {
	RegisterModels()
	database.RegisterForeignKeys(registry.ForeignKeys()...)
}
