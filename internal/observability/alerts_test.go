package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

func loadAlertRules(t *testing.T) map[string]alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "backoffice.yml"))
	require.NoError(t, err)

	var file alertFile
	require.NoError(t, yaml.Unmarshal(data, &file))
	rules := make(map[string]alertRule)
	for _, group := range file.Groups {
		if group.Name != "backoffice" {
			continue
		}
		for _, rule := range group.Rules {
			rules[rule.Alert] = rule
		}
	}
	return rules
}

func TestAlertRulesReferenceExportedMetrics(t *testing.T) {
	rules := loadAlertRules(t)
	require.Len(t, rules, 3)

	cases := []struct {
		alert    string
		severity string
		anchor   string
		metric   string
	}{
		{"HighErrorRate", "critical", "high-error-rate", "backoffice_http_requests_total"},
		{"NavigationDenialSpike", "warning", "navigation-denials", "backoffice_authz_decisions_total"},
		{"SessionSweepFailing", "warning", "session-sweep", "backoffice_jobs_failures_total"},
	}
	for _, tc := range cases {
		t.Run(tc.alert, func(t *testing.T) {
			rule, ok := rules[tc.alert]
			require.True(t, ok)
			assert.Equal(t, tc.severity, rule.Labels["severity"])
			assert.Equal(t, "docs/runbook-backoffice.md#"+tc.anchor, rule.Annotations["runbook"])
			assert.NotEmpty(t, rule.Annotations["summary"])
			assert.NotEmpty(t, rule.Annotations["description"])
			assert.NotEmpty(t, rule.For)
			assert.True(t, strings.Contains(rule.Expr, tc.metric), rule.Expr)
		})
	}
}

func TestRunbookCoversAlerts(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-backoffice.md"))
	require.NoError(t, err)
	for _, rule := range loadAlertRules(t) {
		_, anchor, _ := strings.Cut(rule.Annotations["runbook"], "#")
		assert.Contains(t, string(data), "## "+strings.ReplaceAll(anchor, "-", " "), rule.Alert)
	}
}
