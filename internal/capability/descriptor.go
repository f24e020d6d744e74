package capability

import (
	"github.com/tidwall/sjson"
)

// Message is one chat turn for the prompt capability.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is the union of the inputs accepted by the four capabilities.
// Each descriptor reads only the fields it needs.
type Input struct {
	Text     string
	Prompt   string
	Messages []Message
}

// Descriptor configures a Manager for one capability.
type Descriptor struct {
	Name string
	// NotDetectedReason is reported when the backend is the unavailable stub.
	NotDetectedReason string
	// UnavailableMessage is the error text when no session can be obtained.
	UnavailableMessage string
	// Endpoint is the model host route used by LocalBackend.
	Endpoint string
	// Instruction is prepended to generation prompts by LocalBackend.
	Instruction string
	// ResultPath selects the text when a session answers with an object.
	ResultPath string
	// BuildRequest encodes Input into the session request.
	BuildRequest func(in Input) ([]byte, error)
}

var Summarizer = Descriptor{
	Name:               NameSummarizer,
	NotDetectedReason:  "Summarizer API not detected",
	UnavailableMessage: "Summarizer session is not available",
	Endpoint:           "/api/generate",
	Instruction:        "Summarize this text into key bullet points for readability. Put each point on its own line.",
	ResultPath:         "summary",
	BuildRequest: func(in Input) ([]byte, error) {
		return sjson.SetBytes(nil, "text", in.Text)
	},
}

var Prompt = Descriptor{
	Name:               NamePrompt,
	NotDetectedReason:  "LanguageModel API not detected",
	UnavailableMessage: "Prompt API session unavailable",
	Endpoint:           "/api/chat",
	ResultPath:         "output",
	BuildRequest: func(in Input) ([]byte, error) {
		msgs := in.Messages
		if len(msgs) == 0 && in.Prompt != "" {
			msgs = []Message{{Role: "user", Content: in.Prompt}}
		}
		if msgs == nil {
			msgs = []Message{}
		}
		return sjson.SetBytes(nil, "messages", msgs)
	},
}

var Writer = Descriptor{
	Name:               NameWriter,
	NotDetectedReason:  "Writer API not detected",
	UnavailableMessage: "Writer API session unavailable",
	Endpoint:           "/api/generate",
	Instruction:        "Write text that follows the instructions below.",
	ResultPath:         "output",
	BuildRequest: func(in Input) ([]byte, error) {
		return sjson.SetBytes(nil, "prompt", in.Prompt)
	},
}

var Rewriter = Descriptor{
	Name:               NameRewriter,
	NotDetectedReason:  "Rewriter API not detected",
	UnavailableMessage: "Rewriter API session unavailable",
	Endpoint:           "/api/generate",
	Instruction:        "Rewrite the text below according to the instructions.",
	ResultPath:         "output",
	BuildRequest: func(in Input) ([]byte, error) {
		req, err := sjson.SetBytes(nil, "prompt", in.Prompt)
		if err != nil {
			return nil, err
		}
		return sjson.SetBytes(req, "text", in.Text)
	},
}

// Descriptors lists the built-in descriptors in snapshot order.
var Descriptors = []Descriptor{Summarizer, Prompt, Writer, Rewriter}
