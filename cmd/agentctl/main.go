// Command agentctl is the operator CLI for the automation engine. It talks
// to a running server over the REST API: submit prompts, inspect workflows
// and executions, review healing proposals, and seed workflow definitions
// from YAML files.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kspranav-az/automation-agent/pkg/models"
)

var (
	serverURL string

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func main() {
	root := &cobra.Command{
		Use:   "agentctl",
		Short: "Operator CLI for the browser automation engine",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the automation server")

	root.AddCommand(runCmd())
	root.AddCommand(workflowsCmd())
	root.AddCommand(executionCmd())
	root.AddCommand(proposalsCmd())
	root.AddCommand(auditCmd())
	root.AddCommand(seedCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <prompt>",
		Short: "Submit a natural-language prompt for routing and execution",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")

			var rec models.ExecutionRecord
			if err := apiCall(http.MethodPost, "/api/v1/prompts", map[string]string{"prompt": prompt}, &rec); err != nil {
				return err
			}

			printExecution(&rec)
			return nil
		},
	}
}

func workflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the newest version of every workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			var workflows []*models.WorkflowSpec
			if err := apiCall(http.MethodGet, "/api/v1/workflows", nil, &workflows); err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Workflows"))
			if len(workflows) == 0 {
				fmt.Println(dimStyle.Render("  (none)"))
				return nil
			}
			for _, w := range workflows {
				status := statusStyle(string(w.Status)).Render(string(w.Status))
				fmt.Printf("  %s v%d  %s  %s\n", w.WorkflowID, w.Version, status,
					dimStyle.Render(fmt.Sprintf("%s/%s, %d steps", w.Site, w.IntentTag, len(w.Steps))))
			}
			return nil
		},
	}
}

func executionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execution <id>",
		Short: "Show one execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec models.ExecutionRecord
			if err := apiCall(http.MethodGet, "/api/v1/executions/"+args[0], nil, &rec); err != nil {
				return err
			}
			printExecution(&rec)
			return nil
		},
	}
}

func proposalsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "Review self-healing proposals",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending healing proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			var proposals []*models.HealingProposal
			if err := apiCall(http.MethodGet, "/api/v1/proposals", nil, &proposals); err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Pending proposals"))
			if len(proposals) == 0 {
				fmt.Println(dimStyle.Render("  (none)"))
				return nil
			}
			for _, p := range proposals {
				fmt.Printf("  %s  %s v%d step %d  %s\n", p.ID, p.WorkflowID, p.Version, p.StepPosition,
					dimStyle.Render(fmt.Sprintf("evidence=%d confidence=%.2f", p.EvidenceCount, p.Confidence)))
				fmt.Printf("    %s %s\n", errStyle.Render("-"), p.OldSelector)
				fmt.Printf("    %s %s\n", okStyle.Render("+"), p.NewSelector)
			}
			return nil
		},
	})

	var actor string
	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a proposal, publishing a new workflow version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]int
			if err := apiCall(http.MethodPost, "/api/v1/proposals/"+args[0]+"/approve",
				map[string]string{"actor": actor}, &resp); err != nil {
				return err
			}
			fmt.Println(okStyle.Render(fmt.Sprintf("approved, published version %d", resp["new_version"])))
			return nil
		},
	}
	approve.Flags().StringVar(&actor, "actor", "", "Reviewer identity (required)")
	_ = approve.MarkFlagRequired("actor")
	cmd.AddCommand(approve)

	var rejectActor, reason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiCall(http.MethodPost, "/api/v1/proposals/"+args[0]+"/reject",
				map[string]string{"actor": rejectActor, "reason": reason}, nil); err != nil {
				return err
			}
			fmt.Println(warnStyle.Render("rejected"))
			return nil
		},
	}
	reject.Flags().StringVar(&rejectActor, "actor", "", "Reviewer identity (required)")
	reject.Flags().StringVar(&reason, "reason", "", "Why the proposal is rejected")
	_ = reject.MarkFlagRequired("actor")
	cmd.AddCommand(reject)

	return cmd
}

func auditCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/audit"
			if kind != "" {
				path += "?kind=" + kind
			}
			var entries []*models.AuditEntry
			if err := apiCall(http.MethodGet, path, nil, &entries); err != nil {
				return err
			}

			for _, e := range entries {
				ref := e.WorkflowID
				if ref == "" {
					ref = e.ExecutionID
				}
				fmt.Printf("%s  %-20s %s\n", dimStyle.Render(e.At.Format(time.RFC3339)), e.Kind, ref)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "Filter by entry kind")
	return cmd
}

// workflowFile is the on-disk YAML shape of a workflow definition.
type workflowFile struct {
	WorkflowID string                 `yaml:"workflow_id"`
	Name       string                 `yaml:"name"`
	Site       string                 `yaml:"site"`
	IntentTag  string                 `yaml:"intent_tag"`
	Approved   bool                   `yaml:"approved"`
	Variables  map[string]workflowVar `yaml:"variables"`
	Steps      []workflowStep         `yaml:"steps"`
}

type workflowVar struct {
	Type      string `yaml:"type"`
	Required  bool   `yaml:"required"`
	Sensitive bool   `yaml:"sensitive"`
	Default   string `yaml:"default"`
}

type workflowStep struct {
	Kind         string `yaml:"kind"`
	Selector     string `yaml:"selector"`
	Input        string `yaml:"input"`
	Expect       string `yaml:"expect"`
	Description  string `yaml:"description"`
	RetryBudget  int    `yaml:"retry_budget"`
	RetryBackoff string `yaml:"retry_backoff"`
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <dir>",
		Short: "Publish workflow definitions from YAML files in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := filepath.Glob(filepath.Join(args[0], "*.yaml"))
			if err != nil {
				return err
			}
			more, err := filepath.Glob(filepath.Join(args[0], "*.yml"))
			if err != nil {
				return err
			}
			paths = append(paths, more...)
			if len(paths) == 0 {
				return fmt.Errorf("no workflow definitions found in %s", args[0])
			}

			for _, path := range paths {
				spec, err := loadWorkflowFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}

				var resp struct {
					WorkflowID string `json:"workflow_id"`
					Version    int    `json:"version"`
				}
				if err := apiCall(http.MethodPost, "/api/v1/workflows", spec, &resp); err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				fmt.Printf("%s %s v%d %s\n", okStyle.Render("published"), resp.WorkflowID, resp.Version,
					dimStyle.Render("("+filepath.Base(path)+")"))
			}
			return nil
		},
	}
}

func loadWorkflowFile(path string) (*models.WorkflowSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file workflowFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if file.WorkflowID == "" || file.Site == "" || file.IntentTag == "" || len(file.Steps) == 0 {
		return nil, fmt.Errorf("workflow_id, site, intent_tag and steps are required")
	}

	spec := &models.WorkflowSpec{
		WorkflowID: file.WorkflowID,
		Name:       file.Name,
		Site:       file.Site,
		IntentTag:  file.IntentTag,
		Status:     models.WorkflowStatusDraft,
		Variables:  map[string]models.VariableDef{},
		CreatedBy:  "seed",
	}
	if file.Approved {
		spec.Status = models.WorkflowStatusApproved
	}
	for name, v := range file.Variables {
		spec.Variables[name] = models.VariableDef{
			Type:      v.Type,
			Required:  v.Required,
			Sensitive: v.Sensitive,
			Default:   v.Default,
		}
	}
	for i, s := range file.Steps {
		var backoff time.Duration
		if s.RetryBackoff != "" {
			backoff, err = time.ParseDuration(s.RetryBackoff)
			if err != nil {
				return nil, fmt.Errorf("step %d: invalid retry_backoff: %w", i+1, err)
			}
		}
		spec.Steps = append(spec.Steps, models.Step{
			Position:     i + 1,
			Kind:         models.StepKind(s.Kind),
			Selector:     models.Selector{Value: s.Selector, Confidence: 1.0, VerifiedAt: time.Now().UTC()},
			Input:        s.Input,
			Expect:       s.Expect,
			Description:  s.Description,
			RetryBudget:  s.RetryBudget,
			RetryBackoff: backoff,
		})
	}
	return spec, nil
}

func printExecution(rec *models.ExecutionRecord) {
	fmt.Println(titleStyle.Render("Execution ") + rec.ID)

	target := "agent"
	if !rec.AgentDirect {
		target = fmt.Sprintf("%s v%d", rec.WorkflowID, rec.Version)
	}
	fmt.Printf("  target: %s\n", target)
	fmt.Printf("  status: %s\n", statusStyle(string(rec.Status)).Render(string(rec.Status)))

	for _, s := range rec.Steps {
		mark := okStyle.Render("✓")
		switch s.Status {
		case models.StepStatusFailed:
			mark = errStyle.Render("✗")
		case models.StepStatusSkipped:
			mark = dimStyle.Render("-")
		}
		line := fmt.Sprintf("  %s step %d", mark, s.Position)
		if s.Detail != "" {
			line += " " + dimStyle.Render(s.Detail)
		}
		fmt.Println(line)
	}
	if rec.ProposalID != "" {
		fmt.Println(warnStyle.Render("  healing proposal filed: ") + rec.ProposalID)
	}
}

func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "approved":
		return okStyle
	case "failed", "deprecated", "rejected":
		return errStyle
	case "aborted", "draft", "pending":
		return warnStyle
	}
	return dimStyle
}

// apiCall performs one JSON round trip against the server. A nil out
// discards the response body.
func apiCall(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var pd struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &pd) == nil && pd.Title != "" {
			return fmt.Errorf("%s: %s", pd.Title, pd.Detail)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
