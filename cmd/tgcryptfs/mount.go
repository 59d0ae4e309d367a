// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tgcryptfs/tgcryptfs/clock"
	"github.com/tgcryptfs/tgcryptfs/fs"
	"github.com/tgcryptfs/tgcryptfs/internal/cli"
)

func mountCommand() *cli.Command {
	var (
		configPath   string
		namespace    string
		mountpoint   string
		passwordFile string
		allowOther   bool
	)

	return &cli.Command{
		Name:    "mount",
		Summary: "Mount a namespace at a local path",
		Usage:   "tgcryptfs mount --namespace NAME MOUNTPOINT",
		Examples: []cli.Example{
			{Description: "mount the \"home\" namespace", Command: "tgcryptfs mount --namespace home /mnt/home"},
		},
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to configuration file (default: $TGCRYPTFS_CONFIG)")
			fs.StringVar(&namespace, "namespace", "", "namespace to mount (required)")
			fs.StringVar(&passwordFile, "password-file", "", "path to file containing the namespace password")
			fs.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
			return fs
		},
		Run: func(args []string) error {
			if namespace == "" {
				return fmt.Errorf("--namespace is required")
			}
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one mountpoint argument")
			}
			mountpoint = args[0]

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			password, err := readPassword(passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			handle, err := openNamespace(cfg, namespace, password.Bytes())
			if err != nil {
				return err
			}
			defer handle.Close()

			filesystem := handle.filesystem()
			server, err := fs.Mount(fs.MountOptions{
				Mountpoint: mountpoint,
				Filesystem: filesystem,
				AllowOther: allowOther,
			})
			if err != nil {
				return err
			}

			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-signalCh
				server.Unmount()
			}()

			var cancelSync context.CancelFunc
			if handle.syncLoop != nil {
				var syncCtx context.Context
				syncCtx, cancelSync = context.WithCancel(context.Background())
				interval := time.Duration(cfg.Distribution.Distributed.SyncIntervalMS) * time.Millisecond
				go handle.syncLoop.Run(syncCtx, clock.Real(), interval)
			}

			server.Wait()
			if cancelSync != nil {
				cancelSync()
			}
			return nil
		},
	}
}
