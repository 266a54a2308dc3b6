// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemos Contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mnemos-dev/mnemos/internal/store"
	mnerr "github.com/mnemos-dev/mnemos/pkg/errors"
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put [json-payload]",
		Short: "Store a record",
		Long:  "Store a structured record given as a JSON argument or read from a YAML/JSON file via --file.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPut,
	}

	cmd.Flags().StringSliceP("tag", "t", nil, "tag to attach (repeatable, supports a:b:c hierarchy)")
	cmd.Flags().StringP("file", "f", "", "read the payload from a YAML or JSON file instead")
	cmd.Flags().Duration("ttl", 0, "record lifetime (e.g. 720h); defaults to the configured retention")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	payload, err := resolvePayload(cmd, args)
	if err != nil {
		return err
	}

	tags, _ := cmd.Flags().GetStringSlice("tag")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	env, err := openEnv(cmd.Context())
	if err != nil {
		return err
	}

	var opts []store.PutOption
	if ttl > 0 {
		opts = append(opts, store.WithTTL(ttl))
	}

	id, err := env.Store.Put(payload, tags, opts...)
	if err != nil {
		_ = env.Close()
		return err
	}

	if err := env.SaveAndClose(cmd.Context()); err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
	return err
}

func resolvePayload(cmd *cobra.Command, args []string) (store.Payload, error) {
	file, _ := cmd.Flags().GetString("file")

	switch {
	case file != "" && len(args) > 0:
		return nil, mnerr.New(mnerr.CodeCLIInputInvalid, "pass the payload as an argument or via --file, not both")

	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, mnerr.Errorf(mnerr.CodeCLIInputInvalid, "reading payload file: %w", err)
		}
		var payload store.Payload
		// YAML is a superset of JSON, so one decoder covers both.
		if err := yaml.Unmarshal(raw, &payload); err != nil {
			return nil, mnerr.Errorf(mnerr.CodeCLIInputInvalid, "parsing payload file %s: %w", file, err)
		}
		return payload, nil

	case len(args) == 1:
		var payload store.Payload
		if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
			return nil, mnerr.Errorf(mnerr.CodeCLIInputInvalid, "parsing payload: %w", err)
		}
		return payload, nil

	default:
		return nil, mnerr.New(mnerr.CodeCLIInputInvalid, "a JSON payload argument or --file is required")
	}
}

// printRecord writes one record as indented JSON.
func printRecord(cmd *cobra.Command, rec *store.Record) error {
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

// printRecords writes a record list as indented JSON.
func printRecords(cmd *cobra.Command, recs []*store.Record) error {
	out, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
