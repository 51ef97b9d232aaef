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
	"database/sql/driver"
	"fmt"

	"github.com/tomoncle/fleetdata/types"
)

// EmployeeRole is stored by name.
type EmployeeRole int

const (
	RoleDriver EmployeeRole = iota + 1
	RoleDispatcher
	RoleMechanic
)

var _ types.BaseEnum = RoleDriver

var roleNames = map[EmployeeRole]string{
	RoleDriver:     "driver",
	RoleDispatcher: "dispatcher",
	RoleMechanic:   "mechanic",
}

var roleDescs = map[EmployeeRole]string{
	RoleDriver:     "drives fleet vehicles",
	RoleDispatcher: "assigns and supervises drivers",
	RoleMechanic:   "services fleet vehicles",
}

// Roles returns every valid role.
func Roles() []EmployeeRole {
	return []EmployeeRole{RoleDriver, RoleDispatcher, RoleMechanic}
}

// ParseRole looks a role up by name, ignoring case.
func ParseRole(name string) (EmployeeRole, bool) {
	return types.LookupEnum(Roles(), name)
}

func (r EmployeeRole) IsValid() bool {
	_, ok := roleNames[r]
	return ok
}

func (r EmployeeRole) Number() int {
	if !r.IsValid() {
		return types.IllegalValue
	}
	return int(r)
}

func (r EmployeeRole) Name() string {
	if !r.IsValid() {
		return types.IllegalName
	}
	return roleNames[r]
}

func (r EmployeeRole) String() string { return r.Name() }

func (r EmployeeRole) Desc() string {
	if !r.IsValid() {
		return types.IllegalDesc
	}
	return roleDescs[r]
}

// Value implements driver.Valuer.
func (r EmployeeRole) Value() (driver.Value, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("invalid employee role %d", int(r))
	}
	return r.Name(), nil
}

// Scan implements sql.Scanner.
func (r *EmployeeRole) Scan(value interface{}) error {
	var name string
	switch v := value.(type) {
	case nil:
		*r = 0
		return nil
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into EmployeeRole", value)
	}
	role, ok := ParseRole(name)
	if !ok {
		return fmt.Errorf("unknown employee role %q", name)
	}
	*r = role
	return nil
}
