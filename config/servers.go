package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shale-yeah/kernel/registry"
)

// serverCatalog is the YAML document shape for a server catalog file.
type serverCatalog struct {
	Servers []registry.ServerConfig `yaml:"servers"`
}

// LoadServers reads a YAML server catalog. The document carries a single
// top-level "servers" list; an empty list is an error since a kernel without
// servers cannot do anything.
func LoadServers(path string) ([]registry.ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read server catalog: %w", err)
	}
	var catalog serverCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse server catalog %s: %w", path, err)
	}
	if len(catalog.Servers) == 0 {
		return nil, fmt.Errorf("server catalog %s declares no servers", path)
	}
	return catalog.Servers, nil
}

// DefaultServers returns the built-in analysis roster. Callers that need a
// different fleet load their own catalog with LoadServers.
func DefaultServers() []registry.ServerConfig {
	return []registry.ServerConfig{
		{
			Name:         "geowiz",
			Script:       "servers/geowiz.py",
			Description:  "Geological analysis: formations, well logs, and GIS data",
			Persona:      "Marcus Aurelius Geologicus",
			Domain:       "geology",
			Capabilities: []string{"formation-analysis", "well-log-parsing", "gis-mapping"},
		},
		{
			Name:         "econobot",
			Script:       "servers/econobot.py",
			Description:  "Economic analysis: DCF valuation and NPV modeling",
			Persona:      "Lucius Cornelius Monetarius",
			Domain:       "economics",
			Capabilities: []string{"dcf-analysis", "npv-calculation", "sensitivity-analysis"},
			Defaults:     map[string]any{"discountRate": 0.1},
		},
		{
			Name:         "curve-smith",
			Script:       "servers/curve-smith.py",
			Description:  "Reservoir engineering: decline curves and EUR estimation",
			Persona:      "Gaius Petronius Curvus",
			Domain:       "engineering",
			Capabilities: []string{"decline-curves", "eur-estimation", "type-curve-fitting"},
		},
		{
			Name:         "risk-analysis",
			Script:       "servers/risk-analysis.py",
			Description:  "Risk assessment: scoring, mitigation, and simulation",
			Persona:      "Cassius Probabilis Maximus",
			Domain:       "risk",
			Capabilities: []string{"risk-scoring", "mitigation-planning", "monte-carlo"},
		},
		{
			Name:         "market",
			Script:       "servers/market.py",
			Description:  "Market analysis: price forecasts and basin differentials",
			Persona:      "Mercurius Mercatus Analyticus",
			Domain:       "market",
			Capabilities: []string{"price-forecasting", "market-trends", "basis-analysis"},
		},
		{
			Name:         "legal",
			Script:       "servers/legal.py",
			Description:  "Legal review: regulatory compliance and contracts",
			Persona:      "Cicero Legalis Advocatus",
			Domain:       "legal",
			Capabilities: []string{"regulatory-compliance", "contract-review", "permitting"},
		},
		{
			Name:         "title",
			Script:       "servers/title.py",
			Description:  "Title examination: ownership chains and lease status",
			Persona:      "Titus Titulus Verificator",
			Domain:       "title",
			Capabilities: []string{"title-verification", "ownership-chain", "lease-status"},
		},
		{
			Name:         "drilling",
			Script:       "servers/drilling.py",
			Description:  "Drilling engineering: well design and cost estimation",
			Persona:      "Decimus Perforator Technicus",
			Domain:       "drilling",
			Capabilities: []string{"drilling-engineering", "well-design", "cost-estimation"},
		},
		{
			Name:         "infrastructure",
			Script:       "servers/infrastructure.py",
			Description:  "Infrastructure review: pipelines, facilities, and takeaway",
			Persona:      "Brutus Structura Aedilis",
			Domain:       "infrastructure",
			Capabilities: []string{"pipeline-access", "facilities-assessment", "takeaway-capacity"},
		},
		{
			Name:         "development",
			Script:       "servers/development.py",
			Description:  "Development planning: spacing, scheduling, and phasing",
			Persona:      "Vitruvius Architectus Magnus",
			Domain:       "development",
			Capabilities: []string{"development-planning", "spacing-optimization", "scheduling"},
		},
		{
			Name:         "research",
			Script:       "servers/research.py",
			Description:  "Research synthesis: literature, analogs, and web sources",
			Persona:      "Plinius Scientius Researchicus",
			Domain:       "research",
			Capabilities: []string{"web-research", "literature-synthesis", "analog-wells"},
		},
		{
			Name:         "test",
			Script:       "servers/test.py",
			Description:  "Pipeline validation and data quality checks",
			Persona:      "Quintus Testius Probator",
			Domain:       "testing",
			Capabilities: []string{"pipeline-validation", "data-quality"},
		},
		{
			Name:         "reporter",
			Script:       "servers/reporter.py",
			Description:  "Report generation from accumulated analysis results",
			Persona:      "Scriptor Reporticus Maximus",
			Domain:       "reporting",
			Capabilities: []string{"report-generation"},
		},
		{
			Name:         "decision",
			Script:       "servers/decision.py",
			Description:  "Investment recommendation synthesis",
			Persona:      "Augustus Decidius Maximus",
			Domain:       "decision",
			Capabilities: []string{"investment-decision"},
		},
	}
}
