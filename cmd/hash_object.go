package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"git.wyat.me/zuul-gateway/object"
)

func newHashObjectCmd() *cobra.Command {
	var objectType string

	cmd := &cobra.Command{
		Use:   "hash-object <file|->",
		Short: "Print the object id the gateway would give a file",
		Long: `Compute the object id (SHA-1) of a file's content, exactly as the gateway
stores it. Use "-" to read from stdin.

Examples:
  zuul-gateway hash-object zuul.yaml
  echo hello | zuul-gateway hash-object -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashObject(cmd, args[0], object.ObjectType(objectType))
		},
	}
	cmd.Flags().StringVarP(&objectType, "type", "t", string(object.TypeBlob), "Object type (blob, tree, commit)")
	return cmd
}

func runHashObject(cmd *cobra.Command, path string, objectType object.ObjectType) error {
	switch objectType {
	case object.TypeBlob, object.TypeTree, object.TypeCommit:
	default:
		return fmt.Errorf("invalid object type %q", objectType)
	}

	var (
		content []byte
		err     error
	)
	if path == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), object.Hash(&object.Object{Type: objectType, Data: content}))
	return nil
}
