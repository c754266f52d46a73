package llm

import (
	"math"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestParseSummary(t *testing.T) {
	valid := `{
		"summary_short": "A short take.",
		"summary_long": "A longer explanation of the article.",
		"recommend_reason": "Worth reading for the benchmarks.",
		"global_score": 82,
		"tags": ["go", "performance"]
	}`

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{name: "valid object", content: valid},
		{name: "valid object in code fence", content: "```json\n" + valid + "\n```"},
		{name: "valid object in bare fence", content: "```\n" + valid + "\n```"},
		{name: "not json", content: "I could not summarize this article.", wantErr: ErrMalformedResponse},
		{name: "missing summary_short", content: `{"summary_long":"x","recommend_reason":"y","global_score":50,"tags":[]}`, wantErr: ErrInvalidResult},
		{name: "empty summary_long", content: `{"summary_short":"x","summary_long":"  ","recommend_reason":"y","global_score":50,"tags":[]}`, wantErr: ErrInvalidResult},
		{name: "missing score", content: `{"summary_short":"x","summary_long":"y","recommend_reason":"z","tags":[]}`, wantErr: ErrInvalidResult},
		{name: "score as string", content: `{"summary_short":"x","summary_long":"y","recommend_reason":"z","global_score":"82","tags":[]}`, wantErr: ErrInvalidResult},
		{name: "missing tags", content: `{"summary_short":"x","summary_long":"y","recommend_reason":"z","global_score":50}`, wantErr: ErrInvalidResult},
		{name: "tags not an array", content: `{"summary_short":"x","summary_long":"y","recommend_reason":"z","global_score":50,"tags":"go"}`, wantErr: ErrInvalidResult},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary, err := parseSummary(tt.content)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, "A short take.", summary.SummaryShort)
			require.Equal(t, 82, summary.GlobalScore)
			require.Equal(t, []string{"go", "performance"}, summary.Tags)
		})
	}
}

func TestParseSummaryClampsFractionalScore(t *testing.T) {
	summary, err := parseSummary(`{
		"summary_short": "s", "summary_long": "l", "recommend_reason": "r",
		"global_score": 87.6, "tags": []
	}`)

	require.NoError(t, err)
	require.Equal(t, 88, summary.GlobalScore)
}

func TestClampScore(t *testing.T) {
	tests := []struct {
		in   float64
		want int
	}{
		{in: 82, want: 82},
		{in: 142.7, want: 100},
		{in: -5, want: 0},
		{in: 0, want: 0},
		{in: 100, want: 100},
		{in: 49.5, want: 50},
		{in: math.NaN(), want: 0},
		{in: math.Inf(1), want: 0},
		{in: math.Inf(-1), want: 0},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, ClampScore(tt.in), "ClampScore(%v)", tt.in)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "no fence", in: `{"a":1}`, want: `{"a":1}`},
		{name: "json fence", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "bare fence", in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "surrounding whitespace", in: "  ```json\n{\"a\":1}\n```  ", want: `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "https://www.example.com/post/1", want: "example.com"},
		{in: "https://blog.golang.org/slices", want: "blog.golang.org"},
		{in: "HTTPS://WWW.EXAMPLE.COM", want: "example.com"},
		{in: "not a url", want: ""},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, extractDomain(tt.in), "extractDomain(%q)", tt.in)
	}
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "rate limited",
			err:  &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"},
			want: ErrRateLimited,
		},
		{
			name: "context exceeded",
			err:  &openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "This model's maximum context length is 65536 tokens"},
			want: ErrContextExceeded,
		},
		{
			name: "other api error",
			err:  &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "upstream failure"},
			want: ErrAPIError,
		},
		{
			name: "transport error",
			err:  errTimeout{},
			want: ErrAPIError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, classifyAPIError(tt.err), tt.want)
		})
	}
}

type errTimeout struct{}

func (errTimeout) Error() string { return "dial tcp: i/o timeout" }
