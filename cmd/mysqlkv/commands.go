package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-mysqlstore/kvstore"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			value, found, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("key=%s not found\n", args[0])
				return nil
			}
			fmt.Println(value)
			return nil
		},
	}

	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Set(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("set successfully")
			return nil
		},
	}

	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Println("deleted successfully")
			return nil
		},
	}

	findCmd = &cobra.Command{
		Use:   "find [pattern]",
		Short: "Lists the keys matching a '*' glob pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			exclude, err := cmd.Flags().GetString("exclude")
			if err != nil {
				return err
			}
			keys, err := store.FindKeys(cmd.Context(), args[0], exclude)
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}

	bulkCmd = &cobra.Command{
		Use:   "bulk",
		Short: "Applies a batch of operations read from stdin",
		Long: `Applies a batch of operations read from stdin, one per line:

	set <key> <value>
	del <key>

All sets are issued as one statement and all deletes as another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := readBulkOps(os.Stdin)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				return fmt.Errorf("no operations on stdin")
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DoBulk(cmd.Context(), ops); err != nil {
				return err
			}
			fmt.Printf("applied %d operations\n", len(ops))
			return nil
		},
	}

	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks that the backing store answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Ping(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("pong")
			return nil
		},
	}
)

func init() {
	findCmd.Flags().String("exclude", "", "glob pattern of keys to leave out")
}

// readBulkOps parses stdin lines into bulk operations. Blank lines and
// lines starting with '#' are skipped.
func readBulkOps(r *os.File) ([]kvstore.Operation, error) {
	var ops []kvstore.Operation
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 3)
		switch fields[0] {
		case "set":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: set needs a key and a value", lineNo)
			}
			ops = append(ops, kvstore.SetOp(fields[1], fields[2]))
		case "del":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: del needs exactly one key", lineNo)
			}
			ops = append(ops, kvstore.RemoveOp(fields[1]))
		default:
			return nil, fmt.Errorf("line %d: unknown operation %q", lineNo, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ops, nil
}
