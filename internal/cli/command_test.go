// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommandExecuteDispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "tgcryptfs",
		Subcommands: []*Command{
			{Name: "mount", Run: func(args []string) error { called = "mount"; return nil }},
			{Name: "init", Run: func(args []string) error { called = "init"; return nil }},
		},
	}

	if err := root.Execute([]string{"init"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "init" {
		t.Errorf("dispatched to %q, want %q", called, "init")
	}
}

func TestCommandExecuteNestedSubcommands(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "tgcryptfs",
		Subcommands: []*Command{
			{
				Name: "snapshot",
				Subcommands: []*Command{
					{
						Name: "create",
						Run: func(args []string) error {
							called = "snapshot create"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute([]string{"snapshot", "create", "before-deploy"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "snapshot create" {
		t.Errorf("dispatched to %q, want %q", called, "snapshot create")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "before-deploy" {
		t.Errorf("args = %v, want [before-deploy]", receivedArgs)
	}
}

func TestCommandExecuteFlagParsing(t *testing.T) {
	var namespace string
	var target string

	command := &Command{
		Name: "mount",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flagSet.StringVar(&namespace, "namespace", "default", "namespace")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				target = args[0]
			}
			return nil
		},
	}

	if err := command.Execute([]string{"--namespace", "home", "/mnt/home"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if namespace != "home" {
		t.Errorf("namespace = %q, want home", namespace)
	}
	if target != "/mnt/home" {
		t.Errorf("target = %q, want /mnt/home", target)
	}
}

func TestCommandExecuteUnknownSubcommandSuggestsClosest(t *testing.T) {
	root := &Command{
		Name: "tgcryptfs",
		Subcommands: []*Command{
			{Name: "mount", Run: func(args []string) error { return nil }},
			{Name: "init", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"mont"})
	if err == nil {
		t.Fatal("expected an error for an unknown subcommand")
	}
	if !strings.Contains(err.Error(), `"mount"`) {
		t.Errorf("error %q does not suggest the closest subcommand", err.Error())
	}
}

func TestCommandExecuteMissingSubcommandPrintsHelp(t *testing.T) {
	root := &Command{
		Name: "snapshot",
		Subcommands: []*Command{
			{Name: "create", Run: func(args []string) error { return nil }},
		},
	}

	if err := root.Execute(nil); err == nil {
		t.Fatal("expected an error when no subcommand is given")
	}
}

func TestCommandExecuteHelpFlagSuppressesRun(t *testing.T) {
	ran := false
	command := &Command{
		Name: "mount",
		Run:  func(args []string) error { ran = true; return nil },
	}

	if err := command.Execute([]string{"--help"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if ran {
		t.Error("Run should not execute when --help is passed")
	}
}
