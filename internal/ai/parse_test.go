package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecisionBareJSON(t *testing.T) {
	d, err := ParseDecision(`{"action":"reply","content":"Hi there","confidence":82}`)
	require.NoError(t, err)
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, "Hi there", d.Content)
	assert.Equal(t, 82, d.Confidence)
}

func TestParseDecisionJSONFence(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"action\":\"escalate\",\"confidence\":40,\"escalation_reason\":\"angry customer\"}\n```\nLet me know."
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionEscalate, d.Action)
	assert.Equal(t, "angry customer", d.EscalationReason)
}

func TestParseDecisionPlainFence(t *testing.T) {
	raw := "```\n{\"action\":\"ignore\",\"confidence\":70}\n```"
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionIgnore, d.Action)
}

func TestParseDecisionSurroundingProse(t *testing.T) {
	raw := `Sure! {"action":"auto_resolve","confidence":95} Hope that helps.`
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionAutoResolve, d.Action)
}

func TestParseDecisionRepairsBrokenJSON(t *testing.T) {
	// Trailing comma and single quotes, the classic model output.
	raw := `{'action': 'reply', 'content': 'Hello', 'confidence': 75,}`
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	assert.Equal(t, ActionReply, d.Action)
	assert.Equal(t, 75, d.Confidence)
}

func TestParseDecisionNormalizesActionCase(t *testing.T) {
	d, err := ParseDecision(`{"action":"  REPLY ","content":"x","confidence":60}`)
	require.NoError(t, err)
	assert.Equal(t, ActionReply, d.Action)
}

func TestParseDecisionClampsConfidence(t *testing.T) {
	d, err := ParseDecision(`{"action":"reply","content":"x","confidence":140}`)
	require.NoError(t, err)
	assert.Equal(t, 100, d.Confidence)

	d, err = ParseDecision(`{"action":"reply","content":"x","confidence":-5}`)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Confidence)
}

func TestParseDecisionUnknownAction(t *testing.T) {
	_, err := ParseDecision(`{"action":"delete_case","confidence":90}`)
	assert.Error(t, err)
}

func TestParseDecisionNoJSON(t *testing.T) {
	_, err := ParseDecision("I'm sorry, I can't help with that.")
	assert.Error(t, err)
}
