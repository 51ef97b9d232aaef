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

package fleetdata

import (
	"context"
	"fmt"

	"github.com/tomoncle/fleetdata/model"
	"github.com/tomoncle/fleetdata/repository"
	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

// DriversSupervisedBy returns the drivers whose dispatcher is named
// dispatcher, ordered by name.
func (s *Store) DriversSupervisedBy(ctx context.Context, dispatcher string, page *types.PageRequest) ([]*model.Employee, error) {
	return s.Employees.FindByCriteria(ctx, types.Criteria{
		"role":            model.RoleDriver,
		"supervisor.name": dispatcher,
		"supervisor.role": model.RoleDispatcher,
	}, types.Asc("name"), page)
}

// ServicesForVehicle returns the service orders of the vehicle with plate,
// newest first.
func (s *Store) ServicesForVehicle(ctx context.Context, plate string, page *types.PageRequest) ([]*model.ServiceOrder, error) {
	return s.ServiceOrders.FindWithJoin(ctx, types.Join{Relation: "vehicle", Field: "plate", Value: plate}, types.Desc("id"), page)
}

// VehiclesDrivenBy returns the vehicles the employee may drive.
func (s *Store) VehiclesDrivenBy(ctx context.Context, driverID int64) ([]*model.Vehicle, error) {
	return s.Vehicles.FindWithJoin(ctx, types.Join{Relation: "drivers", Field: "id", Value: driverID}, types.Asc("plate"), nil)
}

// RevenuePerVehicle sums the service prices of every vehicle, highest first.
// Vehicles without services report 0.
func (s *Store) RevenuePerVehicle(ctx context.Context) ([]types.Aggregate[model.Vehicle], error) {
	return s.Vehicles.FindWithAggregation(ctx, types.Sum("services", "price"), types.Desc(types.SortByAggregate))
}

// ServiceCountPerClient counts the service orders of every client, highest first.
func (s *Store) ServiceCountPerClient(ctx context.Context) ([]types.Aggregate[model.Client], error) {
	return s.Clients.FindWithAggregation(ctx, types.Count("orders"), types.Desc(types.SortByAggregate))
}

// AssignDriver allows the employee driverID to drive vehicleID. Assigning
// twice has no effect; only employees with the driver role qualify.
func (s *Store) AssignDriver(ctx context.Context, vehicleID, driverID int64) error {
	const op = "assign driver"
	err := s.session.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := s.requireVehicle(ctx, tx, op, vehicleID); err != nil {
			return err
		}
		driver, ok, err := s.Employees.GetByIDWithTx(ctx, tx, driverID)
		if err != nil {
			return err
		}
		if !ok {
			return &repository.PersistenceError{Kind: repository.KindNotFound, Op: op, Entity: model.EntityEmployee, Detail: fmt.Sprintf("id=%d", driverID)}
		}
		if driver.Role != model.RoleDriver {
			return &repository.PersistenceError{Kind: repository.KindValidation, Op: op, Entity: model.EntityEmployee, Detail: fmt.Sprintf("id=%d has role %s", driverID, driver.Role)}
		}
		link := &model.VehicleDriver{VehicleID: vehicleID, DriverID: driverID}
		exists, err := tx.NewSelect().Model(link).WherePK().Exists(ctx)
		if err != nil || exists {
			return err
		}
		_, err = tx.NewInsert().Model(link).Exec(ctx)
		return err
	})
	return repository.Translate(op, model.EntityVehicle, err)
}

// UnassignDriver revokes the assignment; a missing assignment is not an error.
func (s *Store) UnassignDriver(ctx context.Context, vehicleID, driverID int64) error {
	const op = "unassign driver"
	err := s.session.Run(ctx, func(ctx context.Context, tx bun.Tx) error {
		if err := s.requireVehicle(ctx, tx, op, vehicleID); err != nil {
			return err
		}
		_, err := tx.NewDelete().
			Model(&model.VehicleDriver{VehicleID: vehicleID, DriverID: driverID}).
			WherePK().
			Exec(ctx)
		return err
	})
	return repository.Translate(op, model.EntityVehicle, err)
}

func (s *Store) requireVehicle(ctx context.Context, tx bun.IDB, op string, id int64) error {
	exists, err := tx.NewSelect().Model((*model.Vehicle)(nil)).Where("?TableAlias.id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &repository.PersistenceError{Kind: repository.KindNotFound, Op: op, Entity: model.EntityVehicle, Detail: fmt.Sprintf("id=%d", id)}
	}
	return nil
}

// VehicleSummary is a read model of a vehicle and its activity.
type VehicleSummary struct {
	Plate        string   `json:"plate"`
	Company      string   `json:"company,omitempty"`
	Drivers      []string `json:"drivers"`
	OpenServices int      `json:"open_services"`
	Revenue      float64  `json:"revenue"`
}

// loadActiveServices replaces the services of v by the ones not cancelled.
func loadActiveServices(ctx context.Context, tx bun.IDB, v *model.Vehicle) error {
	v.Services = make([]*model.ServiceOrder, 0)
	return tx.NewSelect().
		Model(&v.Services).
		Where("?TableAlias.vehicle_id = ?", v.ID).
		Where("?TableAlias.status != ?", model.StatusCancelled).
		OrderExpr("?TableAlias.id ASC").
		Scan(ctx)
}

func summarizeVehicle(v *model.Vehicle) (VehicleSummary, error) {
	summary := VehicleSummary{Plate: v.Plate, Drivers: make([]string, 0, len(v.Drivers))}
	if v.Company != nil {
		summary.Company = v.Company.Name
	}
	for _, d := range v.Drivers {
		summary.Drivers = append(summary.Drivers, d.Name)
	}
	for _, o := range v.Services {
		summary.Revenue += o.Price
		if o.Status == model.StatusOpen {
			summary.OpenServices++
		}
	}
	return summary, nil
}

// VehicleSummary loads the vehicle with id, its company and drivers and its
// services that were not cancelled, in one unit of work.
func (s *Store) VehicleSummary(ctx context.Context, id int64) (VehicleSummary, bool, error) {
	return repository.GetByIDAndMap(ctx, s.Vehicles, id, summarizeVehicle, loadActiveServices, "company", "drivers")
}

// CompanyVehicleSummaries summarizes every vehicle of the named company.
func (s *Store) CompanyVehicleSummaries(ctx context.Context, company string) ([]VehicleSummary, error) {
	return repository.FindByCriteriaAndMap(ctx, s.Vehicles, types.Criteria{"company.name": company},
		types.Asc("plate"), nil, summarizeVehicle, loadActiveServices, "company", "drivers")
}
