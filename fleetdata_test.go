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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tomoncle/fleetdata/database"
	"github.com/tomoncle/fleetdata/model"
	"github.com/tomoncle/fleetdata/repository"
	"github.com/tomoncle/fleetdata/types"
)

func testConfig(t *testing.T) *database.Config {
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.DataMigrateConfig.EnableMigrateOnStartup = true
	cfg.DataMigrateConfig.EnableForeignKey = true
	cfg.RepositoryConfig.AsyncWorkers = 2
	return cfg
}

type fleet struct {
	acme, globex        *model.Company
	dana, eve           *model.Employee
	ann, ben, carl, max *model.Employee
	v1, v2, v3          *model.Vehicle
	bob, cid            *model.Client
	oil, brakes         *model.ServiceOrder
}

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	f     fleet
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	store, err := Open(s.ctx, testConfig(s.T()))
	s.Require().NoError(err)
	s.store = store
	s.seed()
}

func (s *StoreSuite) TearDownTest() {
	s.Require().NoError(s.store.Close(s.ctx))
}

func (s *StoreSuite) company(name string) *model.Company {
	c, err := s.store.Companies.Create(s.ctx, &model.Company{Name: name})
	s.Require().NoError(err)
	return c
}

func (s *StoreSuite) employee(name string, role model.EmployeeRole, company *model.Company, supervisor *model.Employee) *model.Employee {
	e := &model.Employee{Name: name, Role: role, CompanyID: &company.ID}
	if supervisor != nil {
		e.SupervisorID = &supervisor.ID
	}
	created, err := s.store.Employees.Create(s.ctx, e)
	s.Require().NoError(err)
	return created
}

func (s *StoreSuite) vehicle(plate string, company *model.Company) *model.Vehicle {
	v, err := s.store.Vehicles.Create(s.ctx, &model.Vehicle{
		Plate:     plate,
		Make:      "Volvo",
		Specs:     types.JsonObject{"seats": 3.0},
		CompanyID: &company.ID,
	})
	s.Require().NoError(err)
	return v
}

func (s *StoreSuite) order(desc string, price float64, v *model.Vehicle, c *model.Client, status string) *model.ServiceOrder {
	o, err := s.store.ServiceOrders.Create(s.ctx, &model.ServiceOrder{
		Description: desc,
		Price:       price,
		Status:      status,
		VehicleID:   &v.ID,
		ClientID:    &c.ID,
	})
	s.Require().NoError(err)
	return o
}

func (s *StoreSuite) seed() {
	f := &s.f
	f.acme = s.company("Acme")
	f.globex = s.company("Globex")
	f.dana = s.employee("Dana", model.RoleDispatcher, f.acme, nil)
	f.eve = s.employee("Eve", model.RoleDispatcher, f.globex, nil)
	f.ann = s.employee("Ann", model.RoleDriver, f.acme, f.dana)
	f.ben = s.employee("Ben", model.RoleDriver, f.acme, f.dana)
	f.carl = s.employee("Carl", model.RoleDriver, f.globex, f.eve)
	f.max = s.employee("Max", model.RoleMechanic, f.acme, f.dana)
	f.v1 = s.vehicle("V-1", f.acme)
	f.v2 = s.vehicle("V-2", f.acme)
	f.v3 = s.vehicle("V-3", f.globex)

	var err error
	f.bob, err = s.store.Clients.Create(s.ctx, &model.Client{Name: "Bob", Email: "bob@example.com"})
	s.Require().NoError(err)
	f.cid, err = s.store.Clients.Create(s.ctx, &model.Client{Name: "Cid", Email: "cid@example.com"})
	s.Require().NoError(err)
	f.oil = s.order("oil change", 100, f.v1, f.bob, "")
	f.brakes = s.order("brake pads", 200, f.v1, f.bob, model.StatusCompleted)
}

func employeeNames(es []*model.Employee) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.Name)
	}
	return out
}

func (s *StoreSuite) TestOpenRejectsSecondStore() {
	_, err := Open(s.ctx, testConfig(s.T()))
	s.ErrorIs(err, ErrAlreadyOpen)

	_, err = Open(s.ctx, nil)
	s.Error(err)
}

func (s *StoreSuite) TestHealth() {
	status := s.store.Health(s.ctx)
	s.True(status.Healthy)
	s.NotNil(s.store.DB())
	s.Equal(2, s.store.Executor().Workers())
	s.Len(s.store.Registry().Schemas(), 5)
	s.Equal(database.DefaultRepositoryConfig().QueryTimeout, s.store.Session().Timeout())
}

func (s *StoreSuite) TestDriversSupervisedBy() {
	drivers, err := s.store.DriversSupervisedBy(s.ctx, "Dana", nil)
	s.Require().NoError(err)
	s.Equal([]string{"Ann", "Ben"}, employeeNames(drivers))

	drivers, err = s.store.DriversSupervisedBy(s.ctx, "Dana", types.NewPageRequest(1, 1))
	s.Require().NoError(err)
	s.Equal([]string{"Ben"}, employeeNames(drivers))

	drivers, err = s.store.DriversSupervisedBy(s.ctx, "Nobody", nil)
	s.Require().NoError(err)
	s.Empty(drivers)
}

func (s *StoreSuite) TestServicesForVehicle() {
	orders, err := s.store.ServicesForVehicle(s.ctx, "V-1", nil)
	s.Require().NoError(err)
	s.Require().Len(orders, 2)
	s.Equal("brake pads", orders[0].Description)
	s.Equal(model.StatusOpen, orders[1].Status)

	orders, err = s.store.ServicesForVehicle(s.ctx, "V-2", nil)
	s.Require().NoError(err)
	s.Empty(orders)
}

func (s *StoreSuite) TestRevenuePerVehicle() {
	revenue, err := s.store.RevenuePerVehicle(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(revenue, 3)
	s.Equal("V-1", revenue[0].Entity.Plate)
	s.Equal(300.0, revenue[0].Value)
	s.Equal(0.0, revenue[1].Value)
	s.Equal(0.0, revenue[2].Value)
	s.Equal(s.f.v2.ID, revenue[1].Entity.ID)
}

func (s *StoreSuite) TestServiceCountPerClient() {
	counts, err := s.store.ServiceCountPerClient(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(counts, 2)
	s.Equal("Bob", counts[0].Entity.Name)
	s.Equal(2.0, counts[0].Value)
	s.Equal("Cid", counts[1].Entity.Name)
	s.Equal(0.0, counts[1].Value)
}

func (s *StoreSuite) TestAssignDrivers() {
	f := s.f
	s.Require().NoError(s.store.AssignDriver(s.ctx, f.v1.ID, f.ann.ID))
	s.Require().NoError(s.store.AssignDriver(s.ctx, f.v1.ID, f.ann.ID))
	s.Require().NoError(s.store.AssignDriver(s.ctx, f.v3.ID, f.ann.ID))

	vehicles, err := s.store.VehiclesDrivenBy(s.ctx, f.ann.ID)
	s.Require().NoError(err)
	s.Require().Len(vehicles, 2)
	s.Equal("V-1", vehicles[0].Plate)

	v1, _, err := s.store.Vehicles.GetByID(s.ctx, f.v1.ID, "drivers")
	s.Require().NoError(err)
	s.Equal([]string{"Ann"}, employeeNames(v1.Drivers))

	err = s.store.AssignDriver(s.ctx, f.v1.ID, f.max.ID)
	s.True(repository.IsValidation(err))
	s.Contains(err.Error(), "mechanic")
	s.True(repository.IsNotFound(s.store.AssignDriver(s.ctx, 999, f.ann.ID)))
	s.True(repository.IsNotFound(s.store.AssignDriver(s.ctx, f.v1.ID, 999)))

	s.Require().NoError(s.store.UnassignDriver(s.ctx, f.v3.ID, f.ann.ID))
	s.Require().NoError(s.store.UnassignDriver(s.ctx, f.v3.ID, f.ann.ID))
	vehicles, err = s.store.VehiclesDrivenBy(s.ctx, f.ann.ID)
	s.Require().NoError(err)
	s.Len(vehicles, 1)
}

func (s *StoreSuite) TestVehicleSummary() {
	f := s.f
	s.Require().NoError(s.store.AssignDriver(s.ctx, f.v1.ID, f.ben.ID))
	s.order("wipers", 50, f.v1, f.cid, model.StatusCancelled)

	summary, found, err := s.store.VehicleSummary(s.ctx, f.v1.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(VehicleSummary{
		Plate:        "V-1",
		Company:      "Acme",
		Drivers:      []string{"Ben"},
		OpenServices: 1,
		Revenue:      300,
	}, summary)

	_, found, err = s.store.VehicleSummary(s.ctx, 999)
	s.NoError(err)
	s.False(found)

	summaries, err := s.store.CompanyVehicleSummaries(s.ctx, "Acme")
	s.Require().NoError(err)
	s.Require().Len(summaries, 2)
	s.Equal("V-2", summaries[1].Plate)
	s.Empty(summaries[1].Drivers)
}

func (s *StoreSuite) TestDeletePolicies() {
	f := s.f
	s.Require().NoError(s.store.AssignDriver(s.ctx, f.v1.ID, f.ann.ID))

	err := s.store.Companies.Delete(s.ctx, f.acme)
	s.True(repository.IsConstraint(err))
	s.Contains(err.Error(), "vehicles")

	err = s.store.Vehicles.Delete(s.ctx, f.v1)
	s.True(repository.IsConstraint(err))
	s.Contains(err.Error(), "services")

	s.Require().NoError(s.store.Vehicles.Delete(s.ctx, f.v2))

	s.Require().NoError(s.store.Clients.Delete(s.ctx, f.bob))
	oil, _, err := s.store.ServiceOrders.GetByID(s.ctx, f.oil.ID)
	s.Require().NoError(err)
	s.Nil(oil.ClientID)

	s.Require().NoError(s.store.Employees.Delete(s.ctx, f.dana))
	ann, _, err := s.store.Employees.GetByID(s.ctx, f.ann.ID)
	s.Require().NoError(err)
	s.Nil(ann.SupervisorID)

	s.Require().NoError(s.store.Employees.Delete(s.ctx, ann))
	v1, _, err := s.store.Vehicles.GetByID(s.ctx, f.v1.ID, "drivers")
	s.Require().NoError(err)
	s.Empty(v1.Drivers)

	s.True(repository.IsNotFound(s.store.Employees.Delete(s.ctx, ann)))
}

func (s *StoreSuite) TestOptimisticVersioning() {
	first, _, err := s.store.Vehicles.GetByID(s.ctx, s.f.v1.ID)
	s.Require().NoError(err)
	second, _, err := s.store.Vehicles.GetByID(s.ctx, s.f.v1.ID)
	s.Require().NoError(err)
	s.Equal(types.JsonObject{"seats": 3.0}, first.Specs)

	first.Specs["seats"] = 5.0
	_, err = s.store.Vehicles.Update(s.ctx, first)
	s.Require().NoError(err)
	s.Equal(int64(1), first.Version)

	second.Make = "Scania"
	_, err = s.store.Vehicles.Update(s.ctx, second)
	s.True(repository.IsConcurrency(err))

	stored, _, err := s.store.Vehicles.GetByID(s.ctx, s.f.v1.ID)
	s.Require().NoError(err)
	s.Equal(5.0, stored.Specs["seats"])
	s.Equal("Volvo", stored.Make)
}

func (s *StoreSuite) TestConstraintsAndValidation() {
	_, err := s.store.Vehicles.Create(s.ctx, &model.Vehicle{Plate: "V-1"})
	s.True(repository.IsConstraint(err))

	_, err = s.store.Employees.Create(s.ctx, &model.Employee{Name: "Zed"})
	s.True(repository.IsValidation(err))
	s.Contains(err.Error(), "create Employee")
}

func (s *StoreSuite) TestGenericAndAsyncRepositories() {
	clients, err := NewRepository[model.Client](s.store)
	s.Require().NoError(err)
	n, err := clients.Count(s.ctx, nil)
	s.Require().NoError(err)
	s.Equal(2, n)

	async := Async(s.store, s.store.Employees)
	drivers, err := async.FindByCriteriaAsync(s.ctx, types.Criteria{"role": model.RoleDriver}, types.Asc("name"), nil).Get(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"Ann", "Ben", "Carl"}, employeeNames(drivers))

	supervisor, err := async.GetByIDAsync(s.ctx, s.f.ann.ID, "supervisor", "company").Get(s.ctx)
	s.Require().NoError(err)
	s.Equal("Dana", supervisor.Supervisor.Name)
	s.Equal("Acme", supervisor.Company.Name)
}

func TestCloseIsIdempotentAndAllowsReopen(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, store.Close(ctx))
	require.NoError(t, store.Close(ctx))
	assert.False(t, store.Health(ctx).Healthy)

	again, err := Open(ctx, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, again.Close(ctx))
}

func TestOpenValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ConnectionConfig.Type = ""
	_, err := Open(context.Background(), cfg)
	assert.ErrorContains(t, err, "database type cannot be empty")
}
