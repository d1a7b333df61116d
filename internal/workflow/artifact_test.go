package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeArtifacts(t *testing.T) {
	ux := &Artifact{
		Phase:     PhaseFunctionalRequirements,
		Summary:   "user stories",
		Producers: []Role{RoleUXDesigner},
		Functional: []FunctionalRequirement{
			{UserStory: "As an operator I can search stock by SKU"},
		},
	}
	qa := &Artifact{
		Phase:     PhaseFunctionalRequirements,
		Summary:   "acceptance criteria",
		Producers: []Role{RoleQAEngineer},
		Functional: []FunctionalRequirement{
			{UserStory: "As an auditor I can export movement history"},
		},
		Concerns: []string{"search latency untested above 1M rows"},
	}

	merged := MergeArtifacts(PhaseFunctionalRequirements, ux, qa)
	assert.Equal(t, PhaseFunctionalRequirements, merged.Phase)
	assert.Equal(t, "user stories / acceptance criteria", merged.Summary)
	assert.Equal(t, []Role{RoleUXDesigner, RoleQAEngineer}, merged.Producers)
	require.Len(t, merged.Functional, 2)
	assert.Len(t, merged.Concerns, 1)
}

func TestMergeArtifacts_SkipsNilAndKeepsFirstSingular(t *testing.T) {
	archA := &SystemArchitecture{Type: "modular monolith"}
	archB := &SystemArchitecture{Type: "microservices"}

	merged := MergeArtifacts(PhaseSolutionArchitecture,
		nil,
		&Artifact{Phase: PhaseSolutionArchitecture, Architecture: archA},
		&Artifact{Phase: PhaseSolutionArchitecture, Architecture: archB},
	)
	assert.Same(t, archA, merged.Architecture)
}

func TestArtifactClone(t *testing.T) {
	assert.Nil(t, (*Artifact)(nil).Clone())

	orig := &Artifact{
		Phase: PhaseDataArchitecture,
		DataModels: []DataModel{
			{Entity: "StockItem", Attributes: []string{"sku", "quantity"}},
		},
		Tables: []TableDefinition{
			{Name: "stock_items", Columns: []ColumnDef{{Name: "sku", Type: "TEXT"}}},
		},
		Architecture: &SystemArchitecture{
			Type:            "modular monolith",
			TechnologyStack: map[string]string{"database": "PostgreSQL"},
		},
	}
	c := orig.Clone()

	orig.DataModels[0].Attributes[0] = "changed"
	orig.Tables[0].Columns[0].Name = "changed"
	orig.Architecture.TechnologyStack["database"] = "changed"

	assert.Equal(t, "sku", c.DataModels[0].Attributes[0])
	assert.Equal(t, "sku", c.Tables[0].Columns[0].Name)
	assert.Equal(t, "PostgreSQL", c.Architecture.TechnologyStack["database"])
}

func TestParseReviewDecision(t *testing.T) {
	for _, valid := range []string{"approve", "revise", "inspect"} {
		d, err := ParseReviewDecision(valid)
		require.NoError(t, err)
		assert.Equal(t, ReviewDecision(valid), d)
	}

	_, err := ParseReviewDecision("ship-it")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestFatalErrors(t *testing.T) {
	assert.Nil(t, Fatal(nil))

	base := errors.New("schema rejected")
	fatal := Fatal(base)
	assert.True(t, IsFatal(fatal))
	assert.ErrorIs(t, fatal, base)

	wrapped := &PhaseFailure{
		Phase:    PhaseSystemAnalysis,
		Failures: []WorkerFailure{{Role: RoleSystemAnalyst, Attempts: 1, Err: fatal}},
	}
	assert.True(t, IsFatal(wrapped), "fatal marker survives aggregation")
	assert.False(t, IsFatal(errors.New("timeout")))
}

func TestBusinessRequirementValidate(t *testing.T) {
	assert.Error(t, (*BusinessRequirement)(nil).Validate())
	assert.Error(t, (&BusinessRequirement{}).Validate())
	assert.NoError(t, (&BusinessRequirement{ProjectName: "x"}).Validate())
	assert.NoError(t, (&BusinessRequirement{Description: "y"}).Validate())
}
