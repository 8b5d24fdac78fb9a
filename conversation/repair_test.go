package conversation

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userText(text string) Turn {
	return Turn{Role: RoleUser, Content: TextContent(text)}
}

func flatAssistant(text string, ids ...string) Turn {
	t := Turn{Role: RoleAssistant}
	if text != "" {
		t.Content = TextContent(text)
	}
	for _, id := range ids {
		t.Invocations = append(t.Invocations, Invocation{ID: id, Name: "Read", Arguments: json.RawMessage(`{"path":"a.go"}`)})
	}
	return t
}

func toolTurn(id string) Turn {
	return Turn{Role: RoleTool, Results: []Result{{InvocationID: id, Content: json.RawMessage(`"ok"`)}}}
}

func blockAssistant(text string, ids ...string) Turn {
	var blocks []Block
	if text != "" {
		blocks = append(blocks, TextBlock(text))
	}
	for _, id := range ids {
		blocks = append(blocks, InvocationBlock(Invocation{ID: id, Name: "Bash", Arguments: json.RawMessage(`{"command":"ls"}`)}))
	}
	return Turn{Role: RoleAssistant, Content: BlockContent(blocks...)}
}

func blockResults(ids ...string) Turn {
	blocks := make([]Block, 0, len(ids))
	for _, id := range ids {
		blocks = append(blocks, ResultBlock(Result{InvocationID: id, Content: json.RawMessage(`"done"`)}))
	}
	return Turn{Role: RoleUser, Content: BlockContent(blocks...)}
}

// assertPaired checks that every surviving result has a surviving invocation
// and every surviving invocation has a surviving result.
func assertPaired(t *testing.T, turns []Turn) {
	t.Helper()
	invocations := map[string]int{}
	results := map[string]int{}
	for _, turn := range turns {
		for _, inv := range turn.AllInvocations() {
			invocations[inv.ID]++
		}
		for _, r := range turn.AllResults() {
			results[r.InvocationID]++
		}
	}
	for id := range results {
		assert.Contains(t, invocations, id, "result %s has no invocation", id)
	}
	for id := range invocations {
		assert.Equal(t, 1, results[id], "invocation %s should have exactly one result", id)
	}
}

func TestRepair_ValidConversationsUnchanged(t *testing.T) {
	tests := []struct {
		name  string
		turns []Turn
	}{
		{
			name:  "empty",
			turns: []Turn{},
		},
		{
			name:  "no tool traffic",
			turns: []Turn{userText("hi"), {Role: RoleAssistant, Content: TextContent("hello")}},
		},
		{
			name:  "flat single invocation",
			turns: []Turn{userText("hi"), flatAssistant("", "call_A"), toolTurn("call_A")},
		},
		{
			name: "flat parallel invocations answered out of order",
			turns: []Turn{
				userText("hi"),
				flatAssistant("checking", "call_A", "call_B"),
				toolTurn("call_B"),
				toolTurn("call_A"),
				flatAssistant("all done"),
			},
		},
		{
			name: "block single carrier with several results",
			turns: []Turn{
				userText("hi"),
				blockAssistant("let me look", "toolu_A", "toolu_B"),
				blockResults("toolu_A", "toolu_B"),
				{Role: RoleAssistant, Content: TextContent("done")},
			},
		},
		{
			name: "block results split across carriers",
			turns: []Turn{
				blockAssistant("", "toolu_A", "toolu_B"),
				blockResults("toolu_A"),
				blockResults("toolu_B"),
			},
		},
		{
			name: "completing carrier with trailing text",
			turns: []Turn{
				userText("hi"),
				blockAssistant("", "toolu_A"),
				{Role: RoleUser, Content: BlockContent(
					ResultBlock(Result{InvocationID: "toolu_A", Content: json.RawMessage(`[{"type":"text","text":"x"}]`)}),
					TextBlock("keep going"),
				)},
			},
		},
		{
			name: "assistant with raw blocks",
			turns: []Turn{
				{Role: RoleAssistant, Content: BlockContent(
					RawBlock(json.RawMessage(`{"type":"thinking","thinking":"hmm"}`)),
					InvocationBlock(Invocation{ID: "toolu_A", Name: "Bash", Arguments: json.RawMessage(`{}`)}),
				)},
				blockResults("toolu_A"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, report := RepairWithReport(tt.turns)
			assert.Equal(t, tt.turns, out)
			assert.False(t, report.Changed())
		})
	}
}

func TestRepair_ValidInputReturnsSameSlice(t *testing.T) {
	turns := []Turn{userText("hi"), flatAssistant("", "call_A"), toolTurn("call_A")}
	out := Repair(turns)
	require.Len(t, out, 3)
	assert.Same(t, &turns[0], &out[0])
}

func TestRepair_NilInput(t *testing.T) {
	assert.Nil(t, Repair(nil))
}

func TestRepair_InterruptedInvocations(t *testing.T) {
	tests := []struct {
		name     string
		turns    []Turn
		expected []Turn
		report   Report
	}{
		{
			name: "flat user interrupts before results",
			turns: []Turn{
				userText("hi"),
				flatAssistant("", "call_A", "call_B"),
				userText("stop"),
				toolTurn("call_A"),
				toolTurn("call_B"),
			},
			expected: []Turn{userText("hi"), userText("stop")},
			report:   Report{DroppedInvocations: 2, OrphanedResults: 2, DroppedTurns: 3},
		},
		{
			name: "block user interrupts before results",
			turns: []Turn{
				userText("hi"),
				blockAssistant("", "toolu_A", "toolu_B"),
				userText("stop"),
				blockResults("toolu_A", "toolu_B"),
			},
			expected: []Turn{userText("hi"), userText("stop")},
			report:   Report{DroppedInvocations: 2, OrphanedResults: 2, DroppedTurns: 2},
		},
		{
			name: "free text on the assistant turn is preserved",
			turns: []Turn{
				userText("hi"),
				flatAssistant("I'll read the file", "call_A"),
				userText("never mind"),
			},
			expected: []Turn{
				userText("hi"),
				{Role: RoleAssistant, Content: TextContent("I'll read the file")},
				userText("never mind"),
			},
			report: Report{DroppedInvocations: 1},
		},
		{
			name: "block assistant text collapses to scalar text",
			turns: []Turn{
				userText("hi"),
				blockAssistant("Let me check", "toolu_A"),
				userText("stop"),
			},
			expected: []Turn{
				userText("hi"),
				{Role: RoleAssistant, Content: TextContent("Let me check")},
				userText("stop"),
			},
			report: Report{DroppedInvocations: 1},
		},
		{
			name: "partial results followed by user",
			turns: []Turn{
				flatAssistant("", "call_A", "call_B"),
				toolTurn("call_A"),
				userText("stop"),
			},
			expected: []Turn{userText("stop")},
			report:   Report{DroppedInvocations: 2, OrphanedResults: 1, DroppedTurns: 2},
		},
		{
			name: "trailing invocation with no results",
			turns: []Turn{
				userText("hi"),
				blockAssistant("", "toolu_A"),
			},
			expected: []Turn{userText("hi")},
			report:   Report{DroppedInvocations: 1, DroppedTurns: 1},
		},
		{
			name: "mixed carrier keeps unrelated content",
			turns: []Turn{
				blockAssistant("", "toolu_A", "toolu_B"),
				{Role: RoleUser, Content: BlockContent(
					ResultBlock(Result{InvocationID: "toolu_A", Content: json.RawMessage(`"x"`)}),
					TextBlock("also this"),
				)},
			},
			expected: []Turn{
				{Role: RoleUser, Content: BlockContent(TextBlock("also this"))},
			},
			report: Report{DroppedInvocations: 2, OrphanedResults: 1, DroppedTurns: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, report := RepairWithReport(tt.turns)
			assert.Equal(t, tt.expected, out)
			assert.Equal(t, tt.report, report)
			assertPaired(t, out)
		})
	}
}

func TestRepair_InterleavedGroups(t *testing.T) {
	turns := []Turn{
		userText("hi"),
		blockAssistant("first", "toolu_A"),
		blockResults("toolu_A"),
		blockAssistant("second", "toolu_B"),
		userText("interrupt"),
		blockResults("toolu_B"),
	}

	out := Repair(turns)

	expected := []Turn{
		userText("hi"),
		blockAssistant("first", "toolu_A"),
		blockResults("toolu_A"),
		{Role: RoleAssistant, Content: TextContent("second")},
		userText("interrupt"),
	}
	assert.Equal(t, expected, out)
	assertPaired(t, out)
}

func TestRepair_StrayResults(t *testing.T) {
	tests := []struct {
		name     string
		turns    []Turn
		expected []Turn
	}{
		{
			name:     "result before any invocation",
			turns:    []Turn{toolTurn("call_X"), userText("hi")},
			expected: []Turn{userText("hi")},
		},
		{
			name: "result for an earlier completed group",
			turns: []Turn{
				flatAssistant("", "call_A"),
				toolTurn("call_A"),
				userText("again"),
				toolTurn("call_A"),
			},
			expected: []Turn{
				flatAssistant("", "call_A"),
				toolTurn("call_A"),
				userText("again"),
			},
		},
		{
			name: "carrier with an unrelated result disqualifies the group",
			turns: []Turn{
				blockAssistant("", "toolu_A"),
				blockResults("toolu_A", "toolu_Z"),
			},
			expected: []Turn{},
		},
		{
			name: "result block on an assistant turn",
			turns: []Turn{
				userText("hi"),
				{Role: RoleAssistant, Content: BlockContent(
					TextBlock("odd"),
					ResultBlock(Result{InvocationID: "toolu_A"}),
				)},
			},
			expected: []Turn{
				userText("hi"),
				{Role: RoleAssistant, Content: BlockContent(TextBlock("odd"))},
			},
		},
		{
			name: "invocation on a user turn",
			turns: []Turn{
				{Role: RoleUser, Content: BlockContent(
					TextBlock("hi"),
					InvocationBlock(Invocation{ID: "toolu_A", Name: "x"}),
				)},
			},
			expected: []Turn{
				{Role: RoleUser, Content: BlockContent(TextBlock("hi"))},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Repair(tt.turns)
			assert.Equal(t, tt.expected, out)
			assertPaired(t, out)
		})
	}
}

func TestRepair_DuplicateIDs(t *testing.T) {
	t.Run("duplicate invocation keeps the first", func(t *testing.T) {
		turns := []Turn{
			{Role: RoleAssistant, Invocations: []Invocation{
				{ID: "call_A", Name: "first", Arguments: json.RawMessage(`{}`)},
				{ID: "call_A", Name: "second", Arguments: json.RawMessage(`{}`)},
			}},
			toolTurn("call_A"),
		}

		out, report := RepairWithReport(turns)

		require.Len(t, out, 2)
		require.Len(t, out[0].Invocations, 1)
		assert.Equal(t, "first", out[0].Invocations[0].Name)
		assert.Equal(t, 1, report.DroppedInvocations)
		assertPaired(t, out)
	})

	t.Run("duplicate result in the same carrier is dropped", func(t *testing.T) {
		turns := []Turn{
			blockAssistant("", "toolu_A"),
			blockResults("toolu_A", "toolu_A"),
		}

		out, report := RepairWithReport(turns)

		assert.Equal(t, []Turn{blockAssistant("", "toolu_A"), blockResults("toolu_A")}, out)
		assert.Equal(t, 1, report.OrphanedResults)
	})

	t.Run("duplicate result in a later carrier is dropped", func(t *testing.T) {
		turns := []Turn{
			flatAssistant("", "call_A", "call_B"),
			toolTurn("call_A"),
			toolTurn("call_A"),
			toolTurn("call_B"),
		}

		out := Repair(turns)

		assert.Equal(t, []Turn{
			flatAssistant("", "call_A", "call_B"),
			toolTurn("call_A"),
			toolTurn("call_B"),
		}, out)
	})
}

func TestRepair_DoesNotMutateInput(t *testing.T) {
	turns := []Turn{
		blockAssistant("text", "toolu_A", "toolu_B"),
		blockResults("toolu_A"),
		userText("stop"),
	}
	before := fmt.Sprintf("%#v", turns)

	Repair(turns)

	assert.Equal(t, before, fmt.Sprintf("%#v", turns))
}

// randomConversation builds a conversation mixing both conventions, valid
// groups, interruptions, duplicates and stray results.
func randomConversation(r *rand.Rand) []Turn {
	var turns []Turn
	next := 0
	newID := func() string {
		next++
		return fmt.Sprintf("id_%d", next)
	}

	for n := r.Intn(12); n > 0; n-- {
		switch r.Intn(7) {
		case 0:
			turns = append(turns, userText("u"))
		case 1:
			ids := []string{newID(), newID()}
			turns = append(turns, flatAssistant("", ids...))
			for _, id := range ids {
				turns = append(turns, toolTurn(id))
			}
		case 2:
			ids := []string{newID()}
			turns = append(turns, blockAssistant("t", ids...), blockResults(ids...))
		case 3:
			turns = append(turns, blockAssistant("", newID(), newID()))
		case 4:
			turns = append(turns, toolTurn(fmt.Sprintf("id_%d", r.Intn(next+1))))
		case 5:
			turns = append(turns, blockResults(fmt.Sprintf("id_%d", r.Intn(next+1)), newID()))
		case 6:
			turns = append(turns, Turn{Role: RoleAssistant, Content: TextContent("a")})
		}
	}
	return turns
}

func TestRepair_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		turns := randomConversation(r)

		once := Repair(turns)
		twice := Repair(once)

		require.Equal(t, once, twice, "repair must be idempotent for %#v", turns)
		assertPaired(t, once)

		for _, turn := range once {
			if turn.Role == RoleAssistant {
				assert.Empty(t, turn.AllResults())
			} else {
				assert.Empty(t, turn.AllInvocations())
			}
		}
	}
}

func TestRepair_TextPreservation(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		turns := randomConversation(r)
		var texts int
		for _, turn := range turns {
			if turn.Role == RoleAssistant && turn.PlainText() != "" {
				texts++
			}
		}

		var kept int
		for _, turn := range Repair(turns) {
			if turn.Role == RoleAssistant && turn.PlainText() != "" {
				kept++
			}
		}
		assert.Equal(t, texts, kept)
	}
}
