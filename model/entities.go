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
	"errors"
	"fmt"
	"strings"

	"github.com/tomoncle/fleetdata/types"
	"github.com/uptrace/bun"
)

// Company owns vehicles and employs staff.
type Company struct {
	bun.BaseModel `bun:"table:companies,alias:company"`

	ID        int64       `bun:"id,pk,autoincrement" json:"id"`
	Version   int64       `bun:"version,notnull" json:"version"`
	Name      string      `bun:"name,notnull,unique" json:"name"`
	Vehicles  []*Vehicle  `bun:"rel:has-many,join:id=company_id" json:"vehicles,omitempty"`
	Employees []*Employee `bun:"rel:has-many,join:id=company_id" json:"employees,omitempty"`
}

func (c *Company) GetID() int64             { return c.ID }
func (c *Company) GetVersion() int64        { return c.Version }
func (c *Company) SetVersion(version int64) { c.Version = version }

func (c *Company) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("company name is required")
	}
	return nil
}

// Employee works for a company. Drivers are supervised by a dispatcher.
type Employee struct {
	bun.BaseModel `bun:"table:employees,alias:employee"`

	ID           int64        `bun:"id,pk,autoincrement" json:"id"`
	Version      int64        `bun:"version,notnull" json:"version"`
	Name         string       `bun:"name,notnull" json:"name"`
	Role         EmployeeRole `bun:"role,type:varchar(32),notnull" json:"role"`
	CompanyID    *int64       `bun:"company_id" json:"company_id,omitempty"`
	Company      *Company     `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
	SupervisorID *int64       `bun:"supervisor_id" json:"supervisor_id,omitempty"`
	Supervisor   *Employee    `bun:"rel:belongs-to,join:supervisor_id=id" json:"supervisor,omitempty"`
	Supervised   []*Employee  `bun:"rel:has-many,join:id=supervisor_id" json:"supervised,omitempty"`
	Vehicles     []*Vehicle   `bun:"m2m:vehicle_drivers,join:Driver=Vehicle" json:"vehicles,omitempty"`
}

func (e *Employee) GetID() int64             { return e.ID }
func (e *Employee) GetVersion() int64        { return e.Version }
func (e *Employee) SetVersion(version int64) { e.Version = version }

func (e *Employee) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("employee name is required")
	}
	if !e.Role.IsValid() {
		return fmt.Errorf("employee role %d is invalid", int(e.Role))
	}
	if e.SupervisorID != nil && e.ID != 0 && *e.SupervisorID == e.ID {
		return errors.New("employee cannot supervise themselves")
	}
	return nil
}

// Vehicle belongs to a company and is driven by employees.
type Vehicle struct {
	bun.BaseModel `bun:"table:vehicles,alias:vehicle"`

	ID        int64            `bun:"id,pk,autoincrement" json:"id"`
	Version   int64            `bun:"version,notnull" json:"version"`
	Plate     string           `bun:"plate,notnull,unique" json:"plate"`
	Make      string           `bun:"make" json:"make"`
	Specs     types.JsonObject `bun:"specs,type:text" json:"specs,omitempty"`
	CompanyID *int64           `bun:"company_id" json:"company_id,omitempty"`
	Company   *Company         `bun:"rel:belongs-to,join:company_id=id" json:"company,omitempty"`
	Drivers   []*Employee      `bun:"m2m:vehicle_drivers,join:Vehicle=Driver" json:"drivers,omitempty"`
	Services  []*ServiceOrder  `bun:"rel:has-many,join:id=vehicle_id" json:"services,omitempty"`
}

func (v *Vehicle) GetID() int64             { return v.ID }
func (v *Vehicle) GetVersion() int64        { return v.Version }
func (v *Vehicle) SetVersion(version int64) { v.Version = version }

func (v *Vehicle) Validate() error {
	if strings.TrimSpace(v.Plate) == "" {
		return errors.New("vehicle plate is required")
	}
	return nil
}

// VehicleDriver links drivers to the vehicles they may drive.
type VehicleDriver struct {
	bun.BaseModel `bun:"table:vehicle_drivers,alias:vehicle_driver"`

	VehicleID int64     `bun:"vehicle_id,pk"`
	Vehicle   *Vehicle  `bun:"rel:belongs-to,join:vehicle_id=id"`
	DriverID  int64     `bun:"driver_id,pk"`
	Driver    *Employee `bun:"rel:belongs-to,join:driver_id=id"`
}

// Client orders services for fleet vehicles.
type Client struct {
	bun.BaseModel `bun:"table:clients,alias:client"`

	ID      int64           `bun:"id,pk,autoincrement" json:"id"`
	Version int64           `bun:"version,notnull" json:"version"`
	Name    string          `bun:"name,notnull" json:"name"`
	Email   string          `bun:"email,notnull,unique" json:"email"`
	Orders  []*ServiceOrder `bun:"rel:has-many,join:id=client_id" json:"orders,omitempty"`
}

func (c *Client) GetID() int64             { return c.ID }
func (c *Client) GetVersion() int64        { return c.Version }
func (c *Client) SetVersion(version int64) { c.Version = version }

func (c *Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("client name is required")
	}
	if !strings.Contains(c.Email, "@") {
		return fmt.Errorf("client email %q is invalid", c.Email)
	}
	return nil
}

// Order statuses.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// ServiceOrder is a priced service performed on a vehicle for a client.
type ServiceOrder struct {
	bun.BaseModel `bun:"table:service_orders,alias:service_order"`

	ID          int64    `bun:"id,pk,autoincrement" json:"id"`
	Version     int64    `bun:"version,notnull" json:"version"`
	Description string   `bun:"description,notnull" json:"description"`
	Price       float64  `bun:"price,notnull" json:"price"`
	Status      string   `bun:"status,notnull" json:"status"`
	VehicleID   *int64   `bun:"vehicle_id" json:"vehicle_id,omitempty"`
	Vehicle     *Vehicle `bun:"rel:belongs-to,join:vehicle_id=id" json:"vehicle,omitempty"`
	ClientID    *int64   `bun:"client_id" json:"client_id,omitempty"`
	Client      *Client  `bun:"rel:belongs-to,join:client_id=id" json:"client,omitempty"`
}

func (o *ServiceOrder) GetID() int64             { return o.ID }
func (o *ServiceOrder) GetVersion() int64        { return o.Version }
func (o *ServiceOrder) SetVersion(version int64) { o.Version = version }

// Validate defaults an empty status to open.
func (o *ServiceOrder) Validate() error {
	if strings.TrimSpace(o.Description) == "" {
		return errors.New("service description is required")
	}
	if o.Price < 0 {
		return fmt.Errorf("service price %.2f is negative", o.Price)
	}
	switch o.Status {
	case StatusOpen, StatusCompleted, StatusCancelled:
	case "":
		o.Status = StatusOpen
	default:
		return fmt.Errorf("unknown service status %q", o.Status)
	}
	return nil
}
