package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mallardlabs/mallard/internal/model"
)

// pylint exit codes are bit flags: 1 fatal, 2 error, 4 warning, 8 refactor,
// 16 convention. Any combination below 32 still means the run itself worked;
// 32 is a usage error.
var pylintSuccessCodes = func() []int {
	codes := make([]int, 32)
	for i := range codes {
		codes[i] = i
	}
	return codes
}()

// Pylint runs pylint with JSON output, backing the "lint" job type.
type Pylint struct {
	tool       *tool
	projectDir string
}

func NewPylint(t *tool) Processor {
	if t.binary == "" {
		t.binary = "pylint"
	}
	cwd, _ := os.Getwd()
	return &Pylint{tool: t, projectDir: cwd}
}

func (p *Pylint) Type() model.JobType { return model.JobTypeLint }

func (p *Pylint) Run(ctx context.Context, code string, opts model.FilterOptions) ([]model.Diagnostic, error) {
	res, err := p.tool.invoke(ctx, code, func(srcPath string) []string {
		args := []string{"--output-format=json"}
		if cfg := DiscoverConfig(p.projectDir, ".pylintrc", "pylintrc", "pyproject.toml"); cfg != "" {
			slog.DebugContext(ctx, "using discovered configuration", "path", cfg)
			args = append(args, "--rcfile", cfg)
		}
		return append(args, srcPath)
	}, pylintSuccessCodes)
	if err != nil {
		return nil, err
	}

	var out []struct {
		Type      string `json:"type"` // fatal|error|warning|refactor|convention|info
		Line      int    `json:"line"`
		Column    int    `json:"column"`
		Message   string `json:"message"`
		Symbol    string `json:"symbol"`
		MessageID string `json:"message-id"`
	}
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("decoding pylint output: %v: %w", err, model.ErrMalformedOutput)
	}

	diags := make([]model.Diagnostic, 0, len(out))
	for _, m := range out {
		rule := m.Symbol
		if rule == "" {
			rule = m.MessageID
		}
		diags = append(diags, model.Diagnostic{
			Severity:   pylintSeverity(m.Type),
			Line:       max(m.Line, 1),
			Column:     m.Column + 1, // 0-based in the tool output
			Message:    m.Message,
			Code:       rule,
			SourceLine: model.SourceLine(code, m.Line),
		})
	}
	return model.Filter(diags, opts), nil
}

func pylintSeverity(s string) model.Severity {
	switch s {
	case "fatal", "error":
		return model.SeverityError
	case "warning":
		return model.SeverityWarning
	case "convention", "info":
		return model.SeverityInfo
	case "refactor":
		return model.SeverityHint
	default:
		return model.SeverityWarning
	}
}
