package policy

import (
	"fmt"
	"regexp"
	"strings"
)

type Context struct {
	Actor   ActorContext      `json:"actor"`
	Action  string            `json:"action"`
	Dataset DatasetContext    `json:"dataset"`
	Labels  map[string]string `json:"labels,omitempty"`
}

type ActorContext struct {
	Subject   string   `json:"subject"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	Tenancies []string `json:"tenancies,omitempty"`
}

type DatasetContext struct {
	DatasetID   string `json:"dataset_id,omitempty"`
	VersionID   string `json:"version_id,omitempty"`
	Tenancy     string `json:"tenancy,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
	DesignState string `json:"design_state,omitempty"`
}

type Decision struct {
	Effect      string `json:"effect"`
	RuleID      string `json:"rule_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Evaluate walks the rules in order and returns the first match. With no
// match the spec's default effect applies; an unset default denies.
func Evaluate(spec Spec, ctx Context) (Decision, error) {
	if err := spec.Validate(); err != nil {
		return Decision{}, err
	}
	for _, rule := range spec.Rules {
		if ruleMatches(rule, ctx) {
			return Decision{
				Effect:      normalizeEffect(rule.Effect),
				RuleID:      strings.TrimSpace(rule.ID),
				Description: strings.TrimSpace(rule.Description),
				Reason:      "rule_match",
			}, nil
		}
	}

	defaultEffect := normalizeEffect(spec.DefaultEffect)
	if defaultEffect == "" {
		defaultEffect = EffectDeny
	}
	return Decision{
		Effect: defaultEffect,
		Reason: "default",
	}, nil
}

func ruleMatches(rule Rule, ctx Context) bool {
	all := rule.When.All
	any := rule.When.Any

	if len(all) > 0 {
		for _, cond := range all {
			if !conditionMatches(cond, ctx) {
				return false
			}
		}
	}
	if len(any) > 0 {
		found := false
		for _, cond := range any {
			if conditionMatches(cond, ctx) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func conditionMatches(cond Condition, ctx Context) bool {
	field := strings.TrimSpace(cond.Field)
	value, ok := ctx.Field(field)
	if !ok {
		return false
	}
	op := strings.ToLower(strings.TrimSpace(cond.Op))
	switch op {
	case "exists":
		return ok
	case "eq":
		return compareEqual(value, cond.Value)
	case "neq":
		return !compareEqual(value, cond.Value)
	case "in":
		return compareIn(value, cond.Values)
	case "not_in":
		return !compareIn(value, cond.Values)
	case "contains":
		return compareContains(value, cond.Value)
	case "not_contains":
		return !compareContains(value, cond.Value)
	case "matches":
		return compareRegex(value, cond.Value)
	default:
		return false
	}
}

func (c Context) Field(name string) (any, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, false
	}
	switch key {
	case "actor.subject", "subject":
		return c.Actor.Subject, strings.TrimSpace(c.Actor.Subject) != ""
	case "actor.email", "email":
		return c.Actor.Email, strings.TrimSpace(c.Actor.Email) != ""
	case "actor.roles", "roles", "role":
		return c.Actor.Roles, len(c.Actor.Roles) > 0
	case "actor.tenancies", "tenancies":
		return c.Actor.Tenancies, len(c.Actor.Tenancies) > 0
	case "action":
		return c.Action, strings.TrimSpace(c.Action) != ""
	case "dataset.id", "dataset.dataset_id", "dataset_id":
		return c.Dataset.DatasetID, strings.TrimSpace(c.Dataset.DatasetID) != ""
	case "dataset.version_id", "dataset_version_id":
		return c.Dataset.VersionID, strings.TrimSpace(c.Dataset.VersionID) != ""
	case "dataset.tenancy", "tenancy":
		return c.Dataset.Tenancy, strings.TrimSpace(c.Dataset.Tenancy) != ""
	case "dataset.visibility", "visibility":
		return c.Dataset.Visibility, strings.TrimSpace(c.Dataset.Visibility) != ""
	case "dataset.design_state", "design_state":
		return c.Dataset.DesignState, strings.TrimSpace(c.Dataset.DesignState) != ""
	}
	if strings.HasPrefix(key, "labels.") {
		value, ok := resolveStringMapPath(c.Labels, strings.TrimPrefix(key, "labels."))
		return value, ok
	}
	return nil, false
}

func resolveStringMapPath(values map[string]string, path string) (string, bool) {
	if len(values) == 0 {
		return "", false
	}
	key := strings.TrimSpace(path)
	if key == "" {
		return "", false
	}
	value, ok := values[key]
	return value, ok
}

func compareEqual(value any, target string) bool {
	target = normalizeString(target)
	switch typed := value.(type) {
	case string:
		return normalizeString(typed) == target
	case []string:
		for _, item := range typed {
			if normalizeString(item) == target {
				return true
			}
		}
		return false
	default:
		return normalizeString(fmt.Sprint(value)) == target
	}
}

func compareIn(value any, targets []string) bool {
	normalized := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		val := normalizeString(t)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		normalized = append(normalized, val)
	}
	if len(normalized) == 0 {
		return false
	}

	switch typed := value.(type) {
	case string:
		return sliceContains(normalized, normalizeString(typed))
	case []string:
		for _, item := range typed {
			if sliceContains(normalized, normalizeString(item)) {
				return true
			}
		}
		return false
	default:
		return sliceContains(normalized, normalizeString(fmt.Sprint(value)))
	}
}

func compareContains(value any, target string) bool {
	target = normalizeString(target)
	if target == "" {
		return false
	}
	switch typed := value.(type) {
	case string:
		return strings.Contains(normalizeString(typed), target)
	case []string:
		for _, item := range typed {
			if normalizeString(item) == target {
				return true
			}
		}
		return false
	default:
		return strings.Contains(normalizeString(fmt.Sprint(value)), target)
	}
}

func compareRegex(value any, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	switch typed := value.(type) {
	case string:
		return re.MatchString(typed)
	case []string:
		for _, item := range typed {
			if re.MatchString(item) {
				return true
			}
		}
		return false
	default:
		return re.MatchString(fmt.Sprint(value))
	}
}

func sliceContains(values []string, target string) bool {
	for _, item := range values {
		if item == target {
			return true
		}
	}
	return false
}

func normalizeEffect(effect string) string {
	effect = strings.ToLower(strings.TrimSpace(effect))
	switch effect {
	case EffectAllow, EffectDeny:
		return effect
	default:
		return EffectDefault
	}
}

func normalizeString(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
