package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/mallardlabs/mallard/internal/model"
)

// basedpyright signals "type errors found" with exit code 1.
var basedpyrightSuccessCodes = []int{0, 1}

// BasedPyright runs the basedpyright type checker with --outputjson.
type BasedPyright struct {
	tool       *tool
	projectDir string
}

func NewBasedPyright(t *tool) Processor {
	if t.binary == "" {
		t.binary = "basedpyright"
	}
	cwd, _ := os.Getwd()
	return &BasedPyright{tool: t, projectDir: cwd}
}

func (p *BasedPyright) Type() model.JobType { return model.JobTypeBasedPyright }

func (p *BasedPyright) Run(ctx context.Context, code string, opts model.FilterOptions) ([]model.Diagnostic, error) {
	res, err := p.tool.invoke(ctx, code, func(srcPath string) []string {
		args := []string{"--outputjson"}
		if cfg := DiscoverConfig(p.projectDir, "pyrightconfig.json", "pyproject.toml"); cfg != "" {
			slog.DebugContext(ctx, "using discovered configuration", "path", cfg)
			args = append(args, "--project", cfg)
		}
		return append(args, srcPath)
	}, basedpyrightSuccessCodes)
	if err != nil {
		return nil, err
	}

	var out struct {
		GeneralDiagnostics []struct {
			Severity string `json:"severity"`
			Message  string `json:"message"`
			Rule     string `json:"rule"`
			Range    struct {
				Start struct {
					Line      int `json:"line"`
					Character int `json:"character"`
				} `json:"start"`
			} `json:"range"`
		} `json:"generalDiagnostics"`
	}
	if err := json.Unmarshal(res.Stdout, &out); err != nil {
		return nil, fmt.Errorf("decoding basedpyright output: %v: %w", err, model.ErrMalformedOutput)
	}

	diags := make([]model.Diagnostic, 0, len(out.GeneralDiagnostics))
	for _, d := range out.GeneralDiagnostics {
		line := d.Range.Start.Line + 1 // 0-based in the tool output
		diags = append(diags, model.Diagnostic{
			Severity:   basedpyrightSeverity(d.Severity),
			Line:       line,
			Column:     d.Range.Start.Character + 1,
			Message:    d.Message,
			Code:       d.Rule,
			SourceLine: model.SourceLine(code, line),
		})
	}
	return model.Filter(diags, opts), nil
}

func basedpyrightSeverity(s string) model.Severity {
	switch s {
	case "error":
		return model.SeverityError
	case "warning":
		return model.SeverityWarning
	case "information":
		return model.SeverityInfo
	case "hint":
		return model.SeverityHint
	default:
		return model.SeverityWarning
	}
}
