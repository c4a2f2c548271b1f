/*
Package factory converts catalog files into leave-engine records.

PURPOSE:
  Seeds a store with leave types, carry-over rules, holidays and employees
  from a YAML or JSON document, so a deployment can be configured without
  code changes. Used by `server -seed` and POST /api/admin/seed.

CATALOG SCHEMA (YAML shown, JSON uses the same keys):
  leave_types:
    - id: annual
      name: Annual Leave
      default_allocation: 20
      requires_documentation: false
      active: true              # default true
      carry_over:               # optional
        max_carry_over: 5
        expiry_months: 3
        requires_approval: false
  holidays:
    - date: 2025-12-25
      name: Christmas Day
      recurring: true
      company_id: ""            # empty = applies to every company
  employees:
    - id: emp-001
      name: Alice
      employment_type: full_time
      hire_date: 2022-03-01

KEY FEATURES:
  - Day amounts accept numbers or decimal strings ("2.5")
  - Holidays without an id get a stable one, so reseeding overwrites
  - Everything is validated before anything is written

USAGE:
  catalog, err := factory.ParseCatalog(data, factory.FormatFromPath(path))
  summary, err := factory.Apply(ctx, catalog, store)

SEE ALSO:
  - leave/types.go: LeaveType, CarryOverRule, Employee
  - calendar/gateway.go: HolidayStore
*/
package factory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// CatalogFile is the on-disk representation of a catalog.
type CatalogFile struct {
	LeaveTypes []LeaveTypeEntry `json:"leave_types" yaml:"leave_types"`
	Holidays   []HolidayEntry   `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	Employees  []EmployeeEntry  `json:"employees,omitempty" yaml:"employees,omitempty"`
}

type LeaveTypeEntry struct {
	ID                    string          `json:"id" yaml:"id"`
	Name                  string          `json:"name" yaml:"name"`
	DefaultAllocation     DaysValue       `json:"default_allocation" yaml:"default_allocation"`
	RequiresDocumentation bool            `json:"requires_documentation,omitempty" yaml:"requires_documentation,omitempty"`
	Active                *bool           `json:"active,omitempty" yaml:"active,omitempty"`
	CarryOver             *CarryOverEntry `json:"carry_over,omitempty" yaml:"carry_over,omitempty"`
}

type CarryOverEntry struct {
	MaxCarryOver     DaysValue `json:"max_carry_over" yaml:"max_carry_over"`
	ExpiryMonths     int       `json:"expiry_months,omitempty" yaml:"expiry_months,omitempty"`
	RequiresApproval bool      `json:"requires_approval,omitempty" yaml:"requires_approval,omitempty"`
}

type HolidayEntry struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	CompanyID string `json:"company_id,omitempty" yaml:"company_id,omitempty"`
	Date      string `json:"date" yaml:"date"`
	Name      string `json:"name" yaml:"name"`
	Recurring bool   `json:"recurring,omitempty" yaml:"recurring,omitempty"`
}

type EmployeeEntry struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Email          string `json:"email,omitempty" yaml:"email,omitempty"`
	EmploymentType string `json:"employment_type" yaml:"employment_type"`
	Active         *bool  `json:"active,omitempty" yaml:"active,omitempty"`
	HireDate       string `json:"hire_date,omitempty" yaml:"hire_date,omitempty"`
}

// DaysValue is a day amount written as a number or a decimal string.
type DaysValue string

func (d *DaysValue) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("day amount must be a number or string: %s", data)
		}
		*d = DaysValue(s)
		return nil
	}
	*d = DaysValue(n.String())
	return nil
}

func (d *DaysValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: day amount must be a scalar", node.Line)
	}
	*d = DaysValue(node.Value)
	return nil
}

func (d DaysValue) amount() (generic.Amount, error) {
	if d == "" {
		return generic.Days(0), nil
	}
	return generic.ParseDays(strings.TrimSpace(string(d)))
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a parsed, validated catalog ready to be applied.
type Catalog struct {
	LeaveTypes []leave.LeaveType
	Rules      []leave.CarryOverRule
	Holidays   []generic.Holiday
	Employees  []leave.Employee
}

type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks the format from a file extension. Unknown extensions are YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte, format Format) (Catalog, error) {
	var file CatalogFile
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &file); err != nil {
			return Catalog{}, fmt.Errorf("failed to parse catalog JSON: %w", err)
		}
	case FormatYAML, "yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Catalog{}, fmt.Errorf("failed to parse catalog YAML: %w", err)
		}
	default:
		return Catalog{}, fmt.Errorf("unsupported catalog format %q", format)
	}
	return FromFile(file)
}

// LoadFile reads and parses the catalog at path, picking the format from
// its extension.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data, FormatFromPath(path))
}

// FromFile converts the file representation into domain records.
func FromFile(file CatalogFile) (Catalog, error) {
	var c Catalog

	seenTypes := make(map[leave.LeaveTypeID]bool)
	for i, lt := range file.LeaveTypes {
		parsed, rule, err := parseLeaveType(lt)
		if err != nil {
			return Catalog{}, fmt.Errorf("leave_types[%d]: %w", i, err)
		}
		if seenTypes[parsed.ID] {
			return Catalog{}, fmt.Errorf("leave_types[%d]: duplicate id %q", i, parsed.ID)
		}
		seenTypes[parsed.ID] = true
		c.LeaveTypes = append(c.LeaveTypes, parsed)
		if rule != nil {
			c.Rules = append(c.Rules, *rule)
		}
	}

	for i, h := range file.Holidays {
		parsed, err := parseHoliday(h)
		if err != nil {
			return Catalog{}, fmt.Errorf("holidays[%d]: %w", i, err)
		}
		c.Holidays = append(c.Holidays, parsed)
	}

	seenEmployees := make(map[leave.EmployeeID]bool)
	for i, e := range file.Employees {
		parsed, err := parseEmployee(e)
		if err != nil {
			return Catalog{}, fmt.Errorf("employees[%d]: %w", i, err)
		}
		if seenEmployees[parsed.ID] {
			return Catalog{}, fmt.Errorf("employees[%d]: duplicate id %q", i, parsed.ID)
		}
		seenEmployees[parsed.ID] = true
		c.Employees = append(c.Employees, parsed)
	}

	return c, nil
}

// Sink is everything Apply writes to. The sqlite, postgres and memory stores satisfy it.
type Sink interface {
	leave.CatalogStore
	leave.EmployeeStore
	SaveHoliday(ctx context.Context, h generic.Holiday) error
}

// Summary counts what Apply wrote.
type Summary struct {
	LeaveTypes int `json:"leave_types"`
	Rules      int `json:"carry_over_rules"`
	Holidays   int `json:"holidays"`
	Employees  int `json:"employees"`
}

// Apply upserts the catalog. Leave types go first so rules can reference them.
func Apply(ctx context.Context, c Catalog, sink Sink) (Summary, error) {
	var s Summary
	for _, lt := range c.LeaveTypes {
		if err := sink.SaveLeaveType(ctx, lt); err != nil {
			return s, fmt.Errorf("save leave type %s: %w", lt.ID, err)
		}
		s.LeaveTypes++
	}
	for _, rule := range c.Rules {
		if err := sink.SaveCarryOverRule(ctx, rule); err != nil {
			return s, fmt.Errorf("save carry-over rule %s: %w", rule.LeaveTypeID, err)
		}
		s.Rules++
	}
	for _, h := range c.Holidays {
		if err := sink.SaveHoliday(ctx, h); err != nil {
			return s, fmt.Errorf("save holiday %s: %w", h.ID, err)
		}
		s.Holidays++
	}
	for _, e := range c.Employees {
		if err := sink.SaveEmployee(ctx, e); err != nil {
			return s, fmt.Errorf("save employee %s: %w", e.ID, err)
		}
		s.Employees++
	}
	return s, nil
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseLeaveType(e LeaveTypeEntry) (leave.LeaveType, *leave.CarryOverRule, error) {
	if e.ID == "" {
		return leave.LeaveType{}, nil, fmt.Errorf("id is required")
	}
	allocation, err := e.DefaultAllocation.amount()
	if err != nil {
		return leave.LeaveType{}, nil, fmt.Errorf("default_allocation: %w", err)
	}
	if allocation.IsNegative() {
		return leave.LeaveType{}, nil, fmt.Errorf("default_allocation must not be negative")
	}

	name := e.Name
	if name == "" {
		name = e.ID
	}
	lt := leave.LeaveType{
		ID:                    leave.LeaveTypeID(e.ID),
		Name:                  name,
		DefaultAllocation:     allocation,
		RequiresDocumentation: e.RequiresDocumentation,
		Active:                e.Active == nil || *e.Active,
	}

	if e.CarryOver == nil {
		return lt, nil, nil
	}
	maxCarry, err := e.CarryOver.MaxCarryOver.amount()
	if err != nil {
		return leave.LeaveType{}, nil, fmt.Errorf("carry_over.max_carry_over: %w", err)
	}
	if maxCarry.IsNegative() || e.CarryOver.ExpiryMonths < 0 {
		return leave.LeaveType{}, nil, fmt.Errorf("carry_over values must not be negative")
	}
	return lt, &leave.CarryOverRule{
		LeaveTypeID:      lt.ID,
		MaxCarryOver:     maxCarry,
		ExpiryMonths:     e.CarryOver.ExpiryMonths,
		RequiresApproval: e.CarryOver.RequiresApproval,
	}, nil
}

func parseHoliday(e HolidayEntry) (generic.Holiday, error) {
	date, err := generic.ParseDate(e.Date)
	if err != nil {
		return generic.Holiday{}, fmt.Errorf("date: %w", err)
	}
	if e.Name == "" {
		return generic.Holiday{}, fmt.Errorf("name is required")
	}
	id := e.ID
	if id == "" {
		id = HolidayID(e.CompanyID, date, e.Recurring)
	}
	return generic.Holiday{
		ID:        id,
		CompanyID: e.CompanyID,
		Date:      date,
		Name:      e.Name,
		Recurring: e.Recurring,
	}, nil
}

// HolidayID derives a stable id from scope and date. Recurring holidays key
// on month and day only.
func HolidayID(companyID string, date generic.TimePoint, recurring bool) string {
	scope := companyID
	if scope == "" {
		scope = "global"
	}
	if recurring {
		return fmt.Sprintf("%s:%02d-%02d", scope, int(date.Month()), date.Day())
	}
	return fmt.Sprintf("%s:%s", scope, date.String())
}

func parseEmployee(e EmployeeEntry) (leave.Employee, error) {
	if e.ID == "" {
		return leave.Employee{}, fmt.Errorf("id is required")
	}
	empType := leave.EmploymentType(e.EmploymentType)
	switch empType {
	case leave.EmploymentFullTime, leave.EmploymentPartTime, leave.EmploymentContractor, leave.EmploymentIntern:
	case "":
		empType = leave.EmploymentFullTime
	default:
		return leave.Employee{}, fmt.Errorf("unknown employment_type %q", e.EmploymentType)
	}

	emp := leave.Employee{
		ID:             leave.EmployeeID(e.ID),
		Name:           e.Name,
		Email:          e.Email,
		EmploymentType: empType,
		Active:         e.Active == nil || *e.Active,
	}
	if e.HireDate != "" {
		hire, err := generic.ParseDate(e.HireDate)
		if err != nil {
			return leave.Employee{}, fmt.Errorf("hire_date: %w", err)
		}
		emp.HireDate = hire
	}
	return emp, nil
}
