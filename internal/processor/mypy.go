package processor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mallardlabs/mallard/internal/model"
)

// mypy exits 1 when it reports type errors, which is still a successful run.
var mypySuccessCodes = []int{0, 1}

// Mypy runs the mypy type checker with JSON line output, backing the
// "static_analysis" job type.
type Mypy struct {
	tool       *tool
	projectDir string
}

func NewMypy(t *tool) Processor {
	if t.binary == "" {
		t.binary = "mypy"
	}
	cwd, _ := os.Getwd()
	return &Mypy{tool: t, projectDir: cwd}
}

func (p *Mypy) Type() model.JobType { return model.JobTypeStaticAnalysis }

func (p *Mypy) Run(ctx context.Context, code string, opts model.FilterOptions) ([]model.Diagnostic, error) {
	res, err := p.tool.invoke(ctx, code, func(srcPath string) []string {
		args := []string{"--output=json", "--no-error-summary"}
		if cfg := DiscoverConfig(p.projectDir, "mypy.ini", ".mypy.ini", "pyproject.toml", "setup.cfg"); cfg != "" {
			slog.DebugContext(ctx, "using discovered configuration", "path", cfg)
			args = append(args, "--config-file", cfg)
		}
		return append(args, srcPath)
	}, mypySuccessCodes)
	if err != nil {
		return nil, err
	}

	// one JSON object per line
	var diags []model.Diagnostic
	scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var m struct {
			Line     int    `json:"line"`
			Column   int    `json:"column"`
			Severity string `json:"severity"` // error|note
			Message  string `json:"message"`
			Code     string `json:"code"`
		}
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, fmt.Errorf("decoding mypy output line: %v: %w", err, model.ErrMalformedOutput)
		}
		diags = append(diags, model.Diagnostic{
			Severity:   mypySeverity(m.Severity),
			Line:       max(m.Line, 1),
			Column:     m.Column + 1, // 0-based in the tool output
			Message:    m.Message,
			Code:       m.Code,
			SourceLine: model.SourceLine(code, m.Line),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mypy output: %v: %w", err, model.ErrMalformedOutput)
	}
	return model.Filter(diags, opts), nil
}

func mypySeverity(s string) model.Severity {
	switch s {
	case "error":
		return model.SeverityError
	case "note":
		return model.SeverityInfo
	default:
		return model.SeverityWarning
	}
}
