/*
rules.go - Year-scoped tax reference data and its file format

PURPOSE:
  Rules bundles one year's progressive brackets and named settings. It is
  read-only at calculation time; HR replaces a whole year at once by
  importing a rules document.

DOCUMENT FORMAT (YAML; JSON is accepted since it is a YAML subset):
  years:
    - year: 2025
      brackets:
        - {min: 0,      max: 150000, rate: 0}
        - {min: 150000, max: 300000, rate: 0.05}
        - {min: 300000,              rate: 0.10}
      settings:
        personal_allowance: 60000
        personal_expense_rate: 0.5
        personal_expense_cap: 100000

  A document may also hold a single year at the top level (year/brackets/
  settings without the "years" list). Setting types come from the known
  key table below, so documents only carry values.

SEE ALSO:
  - calculator.go: consumes Rules
  - core/store.go: TaxStore persistence contract
*/
package tax

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/payroll-engine/core"
)

// =============================================================================
// SETTING KEYS
// =============================================================================

const (
	KeyPersonalExpenseRate        = "personal_expense_rate"
	KeyPersonalExpenseCap         = "personal_expense_cap"
	KeyPersonalAllowance          = "personal_allowance"
	KeySpouseAllowance            = "spouse_allowance"
	KeyChildAllowance             = "child_allowance"
	KeySocialSecurityRate         = "social_security_rate"
	KeySocialSecurityMonthlyCap   = "social_security_monthly_cap"
	KeySocialSecurityEmployerRate = "social_security_employer_rate"
	KeySocialSecurityEmployerCap  = "social_security_employer_monthly_cap"
	KeySocialSecurityDeductionCap = "social_security_deduction_cap"
	KeyProvidentFundDeductionCap  = "provident_fund_deduction_cap"
	KeyProvidentFundEmployerRate  = "provident_fund_employer_rate"
	KeyHealthWelfareRate          = "health_welfare_rate"
	KeyHealthWelfareMonthlyCap    = "health_welfare_monthly_cap"
	KeyHealthWelfareEmployerRate  = "health_welfare_employer_rate"
	KeyHealthWelfareEmployerCap   = "health_welfare_employer_monthly_cap"
)

// KnownSettings maps each recognized key to its type tag.
var KnownSettings = map[string]core.TaxSettingType{
	KeyPersonalExpenseRate:        core.SettingRate,
	KeyPersonalExpenseCap:         core.SettingCap,
	KeyPersonalAllowance:          core.SettingDeductionAmount,
	KeySpouseAllowance:            core.SettingDeductionAmount,
	KeyChildAllowance:             core.SettingDeductionAmount,
	KeySocialSecurityRate:         core.SettingRate,
	KeySocialSecurityMonthlyCap:   core.SettingCap,
	KeySocialSecurityEmployerRate: core.SettingRate,
	KeySocialSecurityEmployerCap:  core.SettingCap,
	KeySocialSecurityDeductionCap: core.SettingCap,
	KeyProvidentFundDeductionCap:  core.SettingCap,
	KeyProvidentFundEmployerRate:  core.SettingRate,
	KeyHealthWelfareRate:          core.SettingRate,
	KeyHealthWelfareMonthlyCap:    core.SettingCap,
	KeyHealthWelfareEmployerRate:  core.SettingRate,
	KeyHealthWelfareEmployerCap:   core.SettingCap,
}

// =============================================================================
// RULES
// =============================================================================

// Rules is one tax year's brackets (ascending) and settings by key.
type Rules struct {
	Year     int
	Brackets []core.TaxBracket
	Settings map[string]core.TaxSetting
}

// Setting returns the value for key, or zero when the key is not configured.
func (r *Rules) Setting(key string) decimal.Decimal {
	if s, ok := r.Settings[key]; ok {
		return s.Value
	}
	return decimal.Zero
}

// SettingList returns the settings sorted by key, for storage.
func (r *Rules) SettingList() []core.TaxSetting {
	out := make([]core.TaxSetting, 0, len(r.Settings))
	for _, s := range r.Settings {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Validate checks that brackets start at zero, are contiguous and
// ascending, only the last one is open-ended, and every rate is in [0, 1].
func (r *Rules) Validate() error {
	op := fmt.Sprintf("tax.rules.%d", r.Year)
	if r.Year <= 0 {
		return &core.PreconditionError{Op: "tax.rules", Reason: "year is required"}
	}
	if len(r.Brackets) == 0 {
		return &core.TaxRulesMissingError{Year: r.Year}
	}
	one := decimal.NewFromInt(1)

	for i, b := range r.Brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThan(one) {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("bracket %d rate %s outside [0, 1]", i, b.Rate)}
		}
		if i == 0 && !b.Min.IsZero() {
			return &core.PreconditionError{Op: op, Reason: "first bracket must start at 0"}
		}
		if b.Max == nil {
			if i != len(r.Brackets)-1 {
				return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("bracket %d is open-ended but not last", i)}
			}
		} else if !b.Max.GreaterThan(b.Min) {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("bracket %d max %s must exceed min %s", i, b.Max, b.Min)}
		}
		if i > 0 {
			prev := r.Brackets[i-1]
			if prev.Max == nil || !prev.Max.Equal(b.Min) {
				return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("bracket %d does not start where bracket %d ends", i, i-1)}
			}
		}
	}

	for key, s := range r.Settings {
		want, ok := KnownSettings[key]
		if !ok {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("unknown setting %q", key)}
		}
		if s.Type != want {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("setting %q has type %s, want %s", key, s.Type, want)}
		}
		if s.Value.IsNegative() {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("setting %q is negative", key)}
		}
		if s.Type == core.SettingRate && s.Value.GreaterThan(one) {
			return &core.PreconditionError{Op: op, Reason: fmt.Sprintf("rate %q above 1", key)}
		}
	}
	return nil
}

// NewRules assembles Rules from stored rows.
func NewRules(year int, brackets []core.TaxBracket, settings []core.TaxSetting) *Rules {
	r := &Rules{Year: year, Brackets: brackets, Settings: make(map[string]core.TaxSetting, len(settings))}
	sort.SliceStable(r.Brackets, func(i, j int) bool { return r.Brackets[i].Order < r.Brackets[j].Order })
	for _, s := range settings {
		r.Settings[s.Key] = s
	}
	return r
}

// =============================================================================
// DOCUMENT SCHEMA
// =============================================================================

// number decodes a YAML scalar (int, float or quoted string) into a decimal
// without a float round-trip.
type number struct {
	decimal.Decimal
}

func (n *number) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q", node.Line, node.Value)
	}
	n.Decimal = d
	return nil
}

type bracketDoc struct {
	Min  number  `yaml:"min" json:"min"`
	Max  *number `yaml:"max,omitempty" json:"max,omitempty"`
	Rate number  `yaml:"rate" json:"rate"`
}

type yearDoc struct {
	Year     int               `yaml:"year" json:"year"`
	Brackets []bracketDoc      `yaml:"brackets" json:"brackets"`
	Settings map[string]number `yaml:"settings" json:"settings"`
}

type rulesDoc struct {
	yearDoc `yaml:",inline"`
	Years   []yearDoc `yaml:"years" json:"years"`
}

// Parse decodes a rules document into validated Rules, one per year.
func Parse(data []byte) ([]*Rules, error) {
	var doc rulesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tax rules: %w", err)
	}

	years := doc.Years
	if doc.Year != 0 {
		years = append(years, doc.yearDoc)
	}
	if len(years) == 0 {
		return nil, &core.PreconditionError{Op: "tax.parse", Reason: "document defines no tax year"}
	}

	seen := make(map[int]bool, len(years))
	out := make([]*Rules, 0, len(years))
	for _, y := range years {
		if seen[y.Year] {
			return nil, &core.PreconditionError{Op: "tax.parse", Reason: fmt.Sprintf("year %d defined twice", y.Year)}
		}
		seen[y.Year] = true

		r := fromDoc(y)
		if err := r.Validate(); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// LoadFile reads and parses a rules document from disk.
func LoadFile(path string) ([]*Rules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func fromDoc(y yearDoc) *Rules {
	r := &Rules{Year: y.Year, Settings: make(map[string]core.TaxSetting, len(y.Settings))}
	for i, b := range y.Brackets {
		tb := core.TaxBracket{Year: y.Year, Order: i, Min: b.Min.Decimal, Rate: b.Rate.Decimal}
		if b.Max != nil {
			upper := b.Max.Decimal
			tb.Max = &upper
		}
		r.Brackets = append(r.Brackets, tb)
	}
	for key, v := range y.Settings {
		r.Settings[key] = core.TaxSetting{Year: y.Year, Key: key, Value: v.Decimal, Type: KnownSettings[key]}
	}
	return r
}

// =============================================================================
// RULES STORE - Year lookup over core.TaxStore
// =============================================================================

type RulesStore struct {
	store core.TaxStore
}

func NewRulesStore(store core.TaxStore) *RulesStore {
	return &RulesStore{store: store}
}

// Load returns the rules for year, or a *core.TaxRulesMissingError when the
// year has no brackets.
func (s *RulesStore) Load(ctx context.Context, year int) (*Rules, error) {
	return LoadYear(ctx, s.store, year)
}

// Save validates and replaces the whole year.
func (s *RulesStore) Save(ctx context.Context, r *Rules) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.store.ReplaceTaxYear(ctx, r.Year, r.Brackets, r.SettingList())
}

// LoadYear reads one year's rules from any TaxStore, including a tx-bound one.
func LoadYear(ctx context.Context, store core.TaxStore, year int) (*Rules, error) {
	brackets, err := store.TaxBrackets(ctx, year)
	if err != nil {
		return nil, err
	}
	if len(brackets) == 0 {
		return nil, &core.TaxRulesMissingError{Year: year}
	}
	settings, err := store.TaxSettings(ctx, year)
	if err != nil {
		return nil, err
	}
	return NewRules(year, brackets, settings), nil
}
