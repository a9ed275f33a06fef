package usage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

// ResetPeriod is how often a delta-maintained counter starts again from zero.
type ResetPeriod string

const (
	ResetNever   ResetPeriod = ""
	ResetMonthly ResetPeriod = "monthly"
	ResetYearly  ResetPeriod = "yearly"
)

// Resource is a metered resource key and how it is counted.
type Resource struct {
	Key string
	// Feature gates visibility of the resource; empty means always visible.
	Feature string
	// Table is the authoritative source; empty means the counter is only
	// maintained through deltas and never recalculated.
	Table string
	// Filter narrows the count beyond organization_id.
	Filter     string
	FilterArgs []any
	// Additive adds purchased capacity on top of the plan limit.
	Additive func(org models.Organization) int64
	// Reset applies to delta-only counters such as monthly exports.
	Reset ResetPeriod
}

// Window returns the calendar period (UTC) containing now. ok is false for
// resources that never reset.
func (r Resource) Window(now time.Time) (start, end time.Time, ok bool) {
	now = now.UTC()
	switch r.Reset {
	case ResetMonthly:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), true
	case ResetYearly:
		start = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), true
	}
	return time.Time{}, time.Time{}, false
}

// Counted reports whether recalculation can count the resource directly.
func (r Resource) Counted() bool {
	return r.Table != ""
}

const liveRows = "deleted_at IS NULL"

func additionalSchools(org models.Organization) int64 {
	if org.AdditionalSchools < 0 {
		return 0
	}
	return int64(org.AdditionalSchools)
}

// DefaultResources is the built-in resource catalogue.
func DefaultResources() []Resource {
	counted := func(key, feature, table string) Resource {
		return Resource{Key: key, Feature: feature, Table: table, Filter: liveRows}
	}
	return []Resource{
		counted("students", "students", "students"),
		counted("staff", "staff", "staff"),
		{Key: "users", Table: "profiles", Filter: "is_active = ?", FilterArgs: []any{true}},
		{Key: "schools", Table: "school_branding", Filter: liveRows, Additive: additionalSchools},
		counted("classes", "classes", "classes"),
		counted("documents", "dms", "incoming_documents"),
		counted("exams", "exams", "exams"),
		{Key: "questions", Feature: "question_bank"},
		counted("finance_accounts", "finance", "finance_accounts"),
		counted("income_entries", "finance", "income_entries"),
		counted("expense_entries", "finance", "expense_entries"),
		counted("assets", "assets", "assets"),
		counted("library_books", "library", "library_books"),
		counted("events", "events", "events"),
		counted("certificate_templates", "graduation", "certificate_templates"),
		counted("id_card_templates", "id_cards", "id_card_templates"),
		{Key: "exams_yearly", Feature: "exams", Reset: ResetYearly},
		{Key: "report_exports", Feature: "pdf_reports", Reset: ResetMonthly},
		{Key: "storage_gb"},
	}
}

// Registry indexes resources by key.
type Registry struct {
	byKey map[string]Resource
	keys  []string
}

// NewRegistry validates and indexes resources.
func NewRegistry(resources ...Resource) (*Registry, error) {
	reg := &Registry{byKey: make(map[string]Resource, len(resources))}
	for _, res := range resources {
		if res.Key == "" {
			return nil, errors.New("resource key must not be empty")
		}
		switch res.Reset {
		case ResetNever, ResetMonthly, ResetYearly:
		default:
			return nil, fmt.Errorf("resource %q has unknown reset period %q", res.Key, res.Reset)
		}
		if res.Reset != ResetNever && res.Counted() {
			return nil, fmt.Errorf("resource %q is counted from a table and cannot reset", res.Key)
		}
		if _, dup := reg.byKey[res.Key]; dup {
			return nil, fmt.Errorf("duplicate resource key %q", res.Key)
		}
		reg.byKey[res.Key] = res
		reg.keys = append(reg.keys, res.Key)
	}
	sort.Strings(reg.keys)
	return reg, nil
}

// Lookup returns the resource registered under key.
func (r *Registry) Lookup(key string) (Resource, bool) {
	res, ok := r.byKey[key]
	return res, ok
}

// Keys returns every registered key, sorted.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Resources returns every registered resource in key order.
func (r *Registry) Resources() []Resource {
	out := make([]Resource, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, r.byKey[key])
	}
	return out
}

// FeatureKeys lists the feature each resource is gated on.
func (r *Registry) FeatureKeys() []string {
	var out []string
	for _, key := range r.keys {
		if feature := r.byKey[key].Feature; feature != "" {
			out = append(out, feature)
		}
	}
	return out
}

// CheckFeatures fails when a resource is gated on a feature known reports
// as undefined. The API runs it against the feature graph at startup.
func (r *Registry) CheckFeatures(known func(string) bool) error {
	var missing []string
	for _, feature := range r.FeatureKeys() {
		if !known(feature) {
			missing = append(missing, feature)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("resources gated on undefined features: %s", strings.Join(missing, ", "))
	}
	return nil
}
