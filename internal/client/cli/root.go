// Package cli implements gophdrive-client, a command line front end for a
// remote gophdrive server.
package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/gophdrive/internal/buildinfo"
	"github.com/dmitrijs2005/gophdrive/internal/client/client"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "GOPHDRIVE"

type clientFactory func(server, token string, opts client.Options) client.Client

type state struct {
	v         *viper.Viper
	newClient clientFactory
}

func NewRootCommand(info buildinfo.Info) *cobra.Command {
	return newRootCommand(info, func(server, token string, opts client.Options) client.Client {
		return client.NewHTTPClient(server, token, opts)
	})
}

func newRootCommand(info buildinfo.Info, factory clientFactory) *cobra.Command {
	st := &state{v: viper.New(), newClient: factory}
	st.v.SetEnvPrefix(envPrefix)
	st.v.AutomaticEnv()
	st.v.SetDefault("server", "http://localhost:8080")
	st.v.SetDefault("token", "")
	st.v.SetDefault("chunk_size", "8MiB")

	cmd := &cobra.Command{
		Use:           "gophdrive-client",
		Short:         "Command line client for a gophdrive server",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       info.String(),
	}

	flags := cmd.PersistentFlags()
	flags.String("server", "", "server base URL (env GOPHDRIVE_SERVER)")
	flags.String("token", "", "bearer token (env GOPHDRIVE_TOKEN)")
	flags.String("chunk-size", "", "upload chunk size, e.g. 8MiB (env GOPHDRIVE_CHUNK_SIZE)")
	_ = st.v.BindPFlag("server", flags.Lookup("server"))
	_ = st.v.BindPFlag("token", flags.Lookup("token"))
	_ = st.v.BindPFlag("chunk_size", flags.Lookup("chunk-size"))

	cmd.AddCommand(
		newWhoamiCommand(st),
		newListCommand(st),
		newMkdirCommand(st),
		newPutCommand(st),
		newGetCommand(st),
		newZipCommand(st),
		newRemoveCommand(st),
		newRemoveDirCommand(st),
		newShareCommand(st),
	)
	return cmd
}

func (st *state) client() (client.Client, error) {
	opts := client.Options{}
	if raw := st.v.GetString("chunk_size"); raw != "" {
		n, err := humanize.ParseBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk size %q: %w", raw, err)
		}
		opts.ChunkSize = int64(n)
	}
	return st.newClient(st.v.GetString("server"), st.v.GetString("token"), opts), nil
}

func Execute(ctx context.Context, info buildinfo.Info, args []string) error {
	cmd := NewRootCommand(info)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// parseIDs accepts a comma separated id list.
func parseIDs(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := parseID(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalDir(cmd *cobra.Command, flag string) (*int64, error) {
	v, _ := cmd.Flags().GetInt64(flag)
	if v == 0 {
		return nil, nil
	}
	if v < 0 {
		return nil, fmt.Errorf("invalid --%s %d", flag, v)
	}
	return &v, nil
}
