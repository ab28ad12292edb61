// Package risk derives risk factors from a health snapshot using a configured
// threshold table. The analyzer performs no I/O.
package risk

import (
	"fmt"
	"strconv"

	"github.com/supplement-advisor-server/internal/domain"
)

// Analyzer evaluates metric families in configuration order.
type Analyzer struct {
	table domain.ThresholdTable
}

// NewAnalyzer creates an analyzer bound to the given thresholds.
func NewAnalyzer(table domain.ThresholdTable) *Analyzer {
	return &Analyzer{table: table}
}

// Analyze returns the risk factors present in the snapshot. Families without a
// configured threshold and metrics without a value are skipped.
func (a *Analyzer) Analyze(snapshot domain.HealthSnapshot) []domain.RiskFactor {
	var out []domain.RiskFactor
	for _, rule := range a.table.Rules {
		eval, ok := evaluators[rule.Family]
		if !ok {
			continue
		}
		if rf, found := eval(rule, snapshot); found {
			rf.Type = rule.RiskType
			rf.LifestyleFactors = append([]string(nil), rule.LifestyleFactors...)
			out = append(out, rf)
		}
	}
	return out
}

type evaluator func(rule domain.MetricRule, s domain.HealthSnapshot) (domain.RiskFactor, bool)

var evaluators = map[string]evaluator{
	domain.FamilyBMI:            evalSingle("bmi", func(s domain.HealthSnapshot) *float64 { return s.EffectiveBMI() }),
	domain.FamilyUnderweight:    evalSingle("bmi", func(s domain.HealthSnapshot) *float64 { return s.EffectiveBMI() }),
	domain.FamilyCholesterol:    evalSingle("total", func(s domain.HealthSnapshot) *float64 { return s.Labs.TotalCholesterol }),
	domain.FamilyFastingGlucose: evalSingle("glucose", func(s domain.HealthSnapshot) *float64 { return s.Labs.FastingGlucose }),
	domain.FamilyExercise: evalSingle("exercise_frequency", func(s domain.HealthSnapshot) *float64 {
		if s.Lifestyle.ExerciseFrequency == nil {
			return nil
		}
		return domain.Float(float64(*s.Lifestyle.ExerciseFrequency))
	}),
	domain.FamilyBloodPressure: evalBloodPressure,
	domain.FamilyLiverEnzymes:  evalLiverEnzymes,
}

// evalSingle handles families with one metric and an optional escalation margin.
func evalSingle(metric string, value func(domain.HealthSnapshot) *float64) evaluator {
	return func(rule domain.MetricRule, s domain.HealthSnapshot) (domain.RiskFactor, bool) {
		th, ok := rule.Threshold(metric)
		if !ok {
			return domain.RiskFactor{}, false
		}
		v := value(s)
		if v == nil || !th.Matches(*v) {
			return domain.RiskFactor{}, false
		}
		return domain.RiskFactor{
			Severity:  severity(rule.Escalated(th, *v)),
			Value:     formatNumber(*v),
			Threshold: formatNumber(th.Bound),
		}, true
	}
}

// evalBloodPressure flags either reading; only systolic escalates.
func evalBloodPressure(rule domain.MetricRule, s domain.HealthSnapshot) (domain.RiskFactor, bool) {
	sysTh, sysOK := rule.Threshold("systolic")
	diaTh, diaOK := rule.Threshold("diastolic")
	sys, dia := s.Vitals.SystolicBP, s.Vitals.DiastolicBP
	if !sysOK && !diaOK {
		return domain.RiskFactor{}, false
	}

	sysHit := sysOK && sys != nil && sysTh.Matches(*sys)
	diaHit := diaOK && dia != nil && diaTh.Matches(*dia)
	if !sysHit && !diaHit {
		return domain.RiskFactor{}, false
	}

	escalated := sysOK && sys != nil && rule.Escalated(sysTh, *sys)
	return domain.RiskFactor{
		Severity:  severity(escalated),
		Value:     fmt.Sprintf("%s/%s", formatOptional(sys), formatOptional(dia)),
		Threshold: fmt.Sprintf("%s/%s", thresholdBound(sysTh, sysOK), thresholdBound(diaTh, diaOK)),
	}, true
}

// evalLiverEnzymes flags AST or ALT; either one passing the margin escalates.
func evalLiverEnzymes(rule domain.MetricRule, s domain.HealthSnapshot) (domain.RiskFactor, bool) {
	astTh, astOK := rule.Threshold("ast")
	altTh, altOK := rule.Threshold("alt")
	ast, alt := s.Labs.AST, s.Labs.ALT

	astHit := astOK && ast != nil && astTh.Matches(*ast)
	altHit := altOK && alt != nil && altTh.Matches(*alt)
	if !astHit && !altHit {
		return domain.RiskFactor{}, false
	}

	escalated := (astHit && rule.Escalated(astTh, *ast)) || (altHit && rule.Escalated(altTh, *alt))
	return domain.RiskFactor{
		Severity:  severity(escalated),
		Value:     fmt.Sprintf("AST: %s, ALT: %s", formatOptional(ast), formatOptional(alt)),
		Threshold: fmt.Sprintf("AST: %s, ALT: %s", thresholdBound(astTh, astOK), thresholdBound(altTh, altOK)),
	}, true
}

func severity(escalated bool) domain.Severity {
	if escalated {
		return domain.SeverityHigh
	}
	return domain.SeverityMedium
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatNumber(*v)
}

func thresholdBound(t domain.Threshold, ok bool) string {
	if !ok {
		return "n/a"
	}
	return formatNumber(t.Bound)
}
