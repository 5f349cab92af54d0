package policy

import "testing"

func TestSpecValidate(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:     "allow-admin",
				Effect: EffectAllow,
				When: ConditionGroup{
					Any: []Condition{
						{Field: "actor.roles", Op: "in", Values: []string{"admin"}},
					},
				},
			},
		},
	}
	if err := spec.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := spec
	invalid.Schema = "bad"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestParseSpecYAML(t *testing.T) {
	raw := []byte(`
schema: datagate.policy.v1
default_effect: deny
rules:
  - id: deny-publish-private
    effect: deny
    when:
      all:
        - field: action
          op: eq
          value: dataset.publish_version
        - field: dataset.visibility
          op: eq
          value: private
  - id: allow-editors
    effect: allow
    when:
      any:
        - field: actor.roles
          op: in
          values: [editor, admin]
`)
	spec, err := ParseSpec(raw)
	if err != nil {
		t.Fatalf("ParseSpec() err=%v", err)
	}
	if len(spec.Rules) != 2 {
		t.Fatalf("rules=%d, want 2", len(spec.Rules))
	}
}

func TestEvaluateRuleOrder(t *testing.T) {
	spec := Spec{
		Schema:        SpecSchemaV1,
		DefaultEffect: EffectDeny,
		Rules: []Rule{
			{
				ID:     "deny-foreign-tenancy",
				Effect: EffectDeny,
				When: ConditionGroup{
					All: []Condition{
						{Field: "dataset.tenancy", Op: "neq", Value: "lab-a"},
					},
				},
			},
			{
				ID:     "allow-editors",
				Effect: EffectAllow,
				When: ConditionGroup{
					Any: []Condition{
						{Field: "actor.roles", Op: "in", Values: []string{"editor", "admin"}},
					},
				},
			},
		},
	}

	decision, err := Evaluate(spec, Context{
		Actor:   ActorContext{Subject: "alice", Roles: []string{"editor"}},
		Action:  "dataset.update",
		Dataset: DatasetContext{DatasetID: "ds-1", Tenancy: "lab-b"},
	})
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if decision.Effect != EffectDeny || decision.RuleID != "deny-foreign-tenancy" {
		t.Fatalf("decision=%+v, want deny-foreign-tenancy", decision)
	}

	decision, err = Evaluate(spec, Context{
		Actor:   ActorContext{Subject: "alice", Roles: []string{"editor"}},
		Action:  "dataset.update",
		Dataset: DatasetContext{DatasetID: "ds-1", Tenancy: "lab-a"},
	})
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if decision.Effect != EffectAllow || decision.RuleID != "allow-editors" {
		t.Fatalf("decision=%+v, want allow-editors", decision)
	}
}

func TestEvaluateDefaultDeny(t *testing.T) {
	spec := Spec{
		Schema: SpecSchemaV1,
		Rules: []Rule{
			{
				ID:     "allow-admin",
				Effect: EffectAllow,
				When: ConditionGroup{
					Any: []Condition{
						{Field: "actor.roles", Op: "in", Values: []string{"admin"}},
					},
				},
			},
		},
	}

	decision, err := Evaluate(spec, Context{
		Actor: ActorContext{Subject: "bob", Roles: []string{"viewer"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() err=%v", err)
	}
	if decision.Effect != EffectDeny || decision.Reason != "default" {
		t.Fatalf("decision=%+v, want default deny", decision)
	}
}

func TestFieldResolution(t *testing.T) {
	ctx := Context{
		Actor:   ActorContext{Subject: "alice", Tenancies: []string{"lab-a", "lab-b"}},
		Action:  "doi.create",
		Dataset: DatasetContext{Visibility: "public", DesignState: "published"},
		Labels:  map[string]string{"env": "prod"},
	}

	if _, ok := ctx.Field("actor.tenancies"); !ok {
		t.Fatalf("actor.tenancies should resolve")
	}
	if v, ok := ctx.Field("labels.env"); !ok || v != "prod" {
		t.Fatalf("labels.env=%v ok=%v", v, ok)
	}
	if _, ok := ctx.Field("labels.missing"); ok {
		t.Fatalf("labels.missing should not resolve")
	}
	if _, ok := ctx.Field("dataset.id"); ok {
		t.Fatalf("empty dataset.id should not resolve")
	}
}
