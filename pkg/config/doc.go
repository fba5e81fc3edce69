// Package config provides configuration management for trellis display builds.
//
// # Key Features
//
// - BuildConfig: one structure describing a complete display build
// - Structured sections: Input, Panel, Variables, State, Inference, Output, Observability, Server
// - Environment variable substitution with ${VAR_NAME} syntax
// - Defaults from NewBuildConfig and fail-early validation
//
// # Usage
//
//	cfg, err := config.LoadBuildConfig("display.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Example YAML
//
//	name: gapminder
//	description: Life expectancy by country
//	input:
//	  path: ${DATA_DIR}/gapminder.csv
//	panel:
//	  column: plot
//	  key_column: country
//	  policy: fail
//	variables:
//	  continent:
//	    kind: factor
//	    label: Continent
//	  year:
//	    kind: factor
//	state:
//	  ncol: 3
//	  nrow: 2
//	  labels: [country, continent]
//	  sorts:
//	    - var: life_exp
//	      dir: desc
//	output:
//	  root: ./trellis_out
package config
