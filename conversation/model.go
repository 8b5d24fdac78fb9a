package conversation

import (
	"encoding/json"
	"strings"
)

// Role identifies who produced a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool is the flat-style carrier role: one result per turn
	RoleTool Role = "tool"
)

// ContentKind tags which variant a Content value holds
type ContentKind uint8

const (
	KindNull ContentKind = iota
	KindText
	KindBlocks
)

// Content is the body of a turn: nothing, a scalar string, or structured blocks.
// The variant is kept as received so that an untouched turn re-encodes to the
// same wire shape.
type Content struct {
	Kind   ContentKind
	Text   string
	Blocks []Block
}

// NullContent returns the empty variant
func NullContent() Content { return Content{Kind: KindNull} }

// TextContent wraps a scalar string
func TextContent(text string) Content { return Content{Kind: KindText, Text: text} }

// BlockContent wraps structured blocks
func BlockContent(blocks ...Block) Content { return Content{Kind: KindBlocks, Blocks: blocks} }

// BlockType tags which variant a Block holds
type BlockType uint8

const (
	BlockText BlockType = iota
	BlockInvocation
	BlockResult
	// BlockRaw is any block kind the bridge does not interpret (thinking,
	// images, documents). It is carried verbatim.
	BlockRaw
)

// Block is a single unit of structured content
type Block struct {
	Type       BlockType
	Text       string
	Invocation Invocation
	Result     Result
	Raw        json.RawMessage
}

func TextBlock(text string) Block { return Block{Type: BlockText, Text: text} }

func InvocationBlock(inv Invocation) Block { return Block{Type: BlockInvocation, Invocation: inv} }

func ResultBlock(res Result) Block { return Block{Type: BlockResult, Result: res} }

func RawBlock(raw json.RawMessage) Block { return Block{Type: BlockRaw, Raw: raw} }

// Invocation is an assistant request to run a named tool
type Invocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Result is the outcome of one invocation. Content holds the JSON value as
// received: a string, a list of blocks, or any other JSON value.
type Result struct {
	InvocationID string
	Content      json.RawMessage
	IsError      bool
}

// Text flattens the result content to a string. Text blocks are joined with
// newlines; any other JSON value is returned in its encoded form.
func (r Result) Text() string {
	raw := []byte(strings.TrimSpace(string(r.Content)))
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil {
		texts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Type == "text" {
				texts = append(texts, p.Text)
			}
		}
		return strings.Join(texts, "\n")
	}

	return string(raw)
}

// Turn is one message of a conversation.
//
// Flat-style messages keep invocations on Invocations and a tool message's
// result on Results. Block-style messages keep them as blocks inside Content
// so their position relative to text is preserved. AllInvocations and
// AllResults see both placements.
type Turn struct {
	Role        Role
	Name        string
	Content     Content
	Invocations []Invocation
	Results     []Result
}

// AllInvocations returns every invocation on the turn in order of appearance
func (t Turn) AllInvocations() []Invocation {
	var out []Invocation
	out = append(out, t.Invocations...)
	if t.Content.Kind == KindBlocks {
		for _, b := range t.Content.Blocks {
			if b.Type == BlockInvocation {
				out = append(out, b.Invocation)
			}
		}
	}
	return out
}

// AllResults returns every result on the turn in order of appearance
func (t Turn) AllResults() []Result {
	var out []Result
	out = append(out, t.Results...)
	if t.Content.Kind == KindBlocks {
		for _, b := range t.Content.Blocks {
			if b.Type == BlockResult {
				out = append(out, b.Result)
			}
		}
	}
	return out
}

// IsCarrier reports whether the turn is a non-assistant turn conveying results
func (t Turn) IsCarrier() bool {
	return t.Role != RoleAssistant && len(t.AllResults()) > 0
}

// PlainText joins the turn's free text
func (t Turn) PlainText() string {
	switch t.Content.Kind {
	case KindText:
		return t.Content.Text
	case KindBlocks:
		var texts []string
		for _, b := range t.Content.Blocks {
			if b.Type == BlockText {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

func (t Turn) hasInvocations() bool {
	if len(t.Invocations) > 0 {
		return true
	}
	if t.Content.Kind == KindBlocks {
		for _, b := range t.Content.Blocks {
			if b.Type == BlockInvocation {
				return true
			}
		}
	}
	return false
}

func (t Turn) hasResults() bool {
	if len(t.Results) > 0 {
		return true
	}
	if t.Content.Kind == KindBlocks {
		for _, b := range t.Content.Blocks {
			if b.Type == BlockResult {
				return true
			}
		}
	}
	return false
}

// hasOtherContent reports whether the turn carries anything besides results
func (t Turn) hasOtherContent() bool {
	switch t.Content.Kind {
	case KindText:
		return strings.TrimSpace(t.Content.Text) != ""
	case KindBlocks:
		for _, b := range t.Content.Blocks {
			switch b.Type {
			case BlockText:
				if strings.TrimSpace(b.Text) != "" {
					return true
				}
			case BlockRaw:
				return true
			}
		}
	}
	return false
}

// isEmpty reports whether nothing worth forwarding is left on the turn
func (t Turn) isEmpty() bool {
	return !t.hasInvocations() && !t.hasResults() && !t.hasOtherContent()
}

// filterResults returns a copy of the turn keeping only results accepted by keep
func (t Turn) filterResults(keep func(Result) bool) Turn {
	out := t
	if len(t.Results) > 0 {
		out.Results = nil
		for _, r := range t.Results {
			if keep(r) {
				out.Results = append(out.Results, r)
			}
		}
	}
	if t.Content.Kind == KindBlocks {
		blocks := make([]Block, 0, len(t.Content.Blocks))
		for _, b := range t.Content.Blocks {
			if b.Type == BlockResult && !keep(b.Result) {
				continue
			}
			blocks = append(blocks, b)
		}
		out.Content = BlockContent(blocks...)
	}
	return out
}

// filterInvocations returns a copy of the turn keeping only invocations accepted by keep
func (t Turn) filterInvocations(keep func(Invocation) bool) Turn {
	out := t
	if len(t.Invocations) > 0 {
		out.Invocations = nil
		for _, inv := range t.Invocations {
			if keep(inv) {
				out.Invocations = append(out.Invocations, inv)
			}
		}
	}
	if t.Content.Kind == KindBlocks {
		blocks := make([]Block, 0, len(t.Content.Blocks))
		for _, b := range t.Content.Blocks {
			if b.Type == BlockInvocation && !keep(b.Invocation) {
				continue
			}
			blocks = append(blocks, b)
		}
		out.Content = BlockContent(blocks...)
	}
	return out
}
