package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	ConfigPath string
	StopOnExit bool
	Daemonize  bool
	PidFile    string
	LogFile    string
}

// ClientFlags select the daemon a client command talks to.
type ClientFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

// InputFlags describe a process definition for create and update.
type InputFlags struct {
	Name     string
	FlakeURL string
	Args     string
	EnvVars  string
	EnvFile  string
	// set reports which optional flags were given on the command line
	set map[string]bool
}

type HistoryFlags struct {
	Limit int
}
