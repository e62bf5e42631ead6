// Package config provides configuration loading and validation for ObaDB.
//
// # Overview
//
// Configuration is read from TOML. Every setting has a default, so a file
// only names what it changes:
//
//	[storage]
//	container = "/var/lib/obadb"
//	max-keys = 128
//	journal-compression = "flate"
//
//	[log]
//	level = "debug"
//	format = "text"
//	output = "/var/log/obadb/obadb.log"
//
// Values may reference the environment as ${VAR} or ${VAR:-default}.
//
// # Loading Configuration
//
//	cfg, err := config.LoadConfig("/etc/obadb/obadb.toml")
//	if err != nil {
//	    return err
//	}
//	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
//	    return errs[0]
//	}
//
//	sw, err := engine.Connect(cfg.Storage.Container, cfg.Storage.EngineOptions(),
//	    engine.WithLogger(cfg.Logger()))
package config
