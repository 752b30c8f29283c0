package classifier

import (
	"testing"

	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestClassify_SimpleRequest(t *testing.T) {
	res := Classify(types.Request{Prompt: "Please fix a typo in the README."})
	assert.Equal(t, IntentSimple, res.Intent)
	assert.Less(t, res.Score, 0.3)
}

func TestClassify_ComplexRequest(t *testing.T) {
	res := Classify(types.Request{
		Prompt: "Design a system architecture for a distributed, multi-service platform with enterprise compliance requirements and a phased rollout plan.",
	})
	assert.Equal(t, IntentComplex, res.Intent)
	assert.GreaterOrEqual(t, res.Score, 0.6)
}

func TestClassify_AmbiguousByDefault(t *testing.T) {
	res := Classify(types.Request{Prompt: "Tell me about widgets."})
	assert.Equal(t, IntentAmbiguous, res.Intent)
}

// TestClassify_Purity verifies the classifier is a pure function of its input.
func TestClassify_Purity(t *testing.T) {
	req := types.Request{Prompt: "Refactor this module across the codebase."}
	a := Classify(req)
	b := Classify(req)
	assert.Equal(t, a, b)
}

func TestClassify_ScoreNeverExceedsOne(t *testing.T) {
	res := Classify(types.Request{
		Prompt: "Design a system architecture. Migrate and coordinate and orchestrate. Enterprise compliance audit governance. Integrate third-party external api. Plan roadmap phased milestone. End-to-end refactor across multi-service microservices. " +
			"padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding padding",
	})
	assert.LessOrEqual(t, res.Score, 1.0)
}
