package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dmitrijs2005/gophdrive/internal/client/client"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newWhoamiCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the account and its quota",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := st.client()
			if err != nil {
				return err
			}
			me, err := c.Me(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (id %d): %s of %s used\n",
				me.Username, me.ID, humanize.IBytes(uint64(me.UsedSpace)), humanize.IBytes(uint64(me.Quota)))
			return nil
		},
	}
}

func newListCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dirID, err := optionalDir(cmd, "dir")
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			l, err := c.List(cmd.Context(), dirID)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSIZE\tNAME")
			for _, d := range l.Directories {
				fmt.Fprintf(w, "%d\tdir\t-\t%s/\n", d.ID, d.Name)
			}
			for _, f := range l.Files {
				name := f.Filename
				if f.IsPublic {
					name += " (shared)"
				}
				fmt.Fprintf(w, "%d\tfile\t%s\t%s\n", f.ID, humanize.IBytes(uint64(f.Filesize)), name)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s of %s used\n",
				humanize.IBytes(uint64(l.Quota.UsedSpace)), humanize.IBytes(uint64(l.Quota.Quota)))
			return nil
		},
	}
	cmd.Flags().Int64("dir", 0, "directory id (default is the root)")
	return cmd
}

func newMkdirCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <name>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, err := optionalDir(cmd, "parent")
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			d, err := c.CreateDirectory(cmd.Context(), parent, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (id %d)\n", d.Path, d.ID)
			return nil
		},
	}
	cmd.Flags().Int64("parent", 0, "parent directory id (default is the root)")
	return cmd
}

func newPutCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <path>",
		Short: "Upload a local file in resumable chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirID, err := optionalDir(cmd, "dir")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				name = filepath.Base(args[0])
			}

			src, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer src.Close()
			info, err := src.Stat()
			if err != nil {
				return err
			}

			c, err := st.client()
			if err != nil {
				return err
			}
			f, err := c.Upload(cmd.Context(), name, info.Size(), src, dirID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s (id %d, %s)\n", f.Filename, f.ID, humanize.IBytes(uint64(f.Filesize)))
			return nil
		},
	}
	cmd.Flags().Int64("dir", 0, "target directory id (default is the root)")
	cmd.Flags().String("name", "", "stored file name (default is the local base name)")
	return cmd
}

func newGetCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <file-id>",
		Short: "Download a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			return download(cmd, out, func(w *os.File) (string, error) {
				return c.Download(cmd.Context(), id, w)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "destination path (default is the stored name)")
	return cmd
}

func newZipCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zip",
		Short: "Download files and directories as one zip archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fileIDs, dirIDs, err := selectionFlags(cmd)
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("output")
			return download(cmd, out, func(w *os.File) (string, error) {
				return c.DownloadArchive(cmd.Context(), fileIDs, dirIDs, w)
			})
		},
	}
	cmd.Flags().String("files", "", "comma separated file ids")
	cmd.Flags().String("dirs", "", "comma separated directory ids")
	cmd.Flags().StringP("output", "o", "", "destination path (default is the archive name)")
	return cmd
}

// download writes into a temporary file next to the destination and renames
// it once the server named the content.
func download(cmd *cobra.Command, out string, fetch func(*os.File) (string, error)) error {
	dir := "."
	if out != "" {
		dir = filepath.Dir(out)
	}
	tmp, err := os.CreateTemp(dir, ".gophdrive-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := fetch(tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	if out == "" {
		out = filepath.Join(dir, filepath.Base(name))
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", out)
	return nil
}

func selectionFlags(cmd *cobra.Command) ([]int64, []int64, error) {
	rawFiles, _ := cmd.Flags().GetString("files")
	rawDirs, _ := cmd.Flags().GetString("dirs")
	fileIDs, err := parseIDs(rawFiles)
	if err != nil {
		return nil, nil, err
	}
	dirIDs, err := parseIDs(rawDirs)
	if err != nil {
		return nil, nil, err
	}
	if len(fileIDs) == 0 && len(dirIDs) == 0 {
		return nil, nil, fmt.Errorf("select at least one of --files or --dirs")
	}
	return fileIDs, dirIDs, nil
}

func newRemoveCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm [file-id]",
		Short: "Delete a file, or a batch with --files/--dirs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := st.client()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				if err := c.DeleteFile(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted file %d\n", id)
				return nil
			}

			fileIDs, dirIDs, err := selectionFlags(cmd)
			if err != nil {
				return err
			}
			stats, err := c.DeleteBatch(cmd.Context(), fileIDs, dirIDs)
			if err != nil {
				return err
			}
			printStats(cmd, stats.Files, stats.Dirs, stats.Bytes)
			return nil
		},
	}
	cmd.Flags().String("files", "", "comma separated file ids")
	cmd.Flags().String("dirs", "", "comma separated directory ids")
	return cmd
}

func newRemoveDirCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <dir-id>",
		Short: "Delete a directory with everything below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := st.client()
			if err != nil {
				return err
			}
			stats, err := c.DeleteDirectory(cmd.Context(), id)
			if err != nil {
				return err
			}
			printStats(cmd, stats.Files, stats.Dirs, stats.Bytes)
			return nil
		},
	}
}

func printStats(cmd *cobra.Command, files, dirs int, bytes int64) {
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d files and %d directories, freed %s\n",
		files, dirs, humanize.IBytes(uint64(bytes)))
}

func newShareCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share <file|directory> <id>",
		Short: "Create, update or revoke a public link",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[1])
			if err != nil {
				return err
			}
			req := client.ShareRequest{ObjectType: args[0], ObjectID: id}
			req.Revoke, _ = cmd.Flags().GetBool("revoke")
			if cmd.Flags().Changed("password") {
				pw, _ := cmd.Flags().GetString("password")
				req.Password = &pw
			}
			if cmd.Flags().Changed("expires") {
				hours, _ := cmd.Flags().GetInt("expires")
				req.ExpiresInHours = &hours
			}

			c, err := st.client()
			if err != nil {
				return err
			}
			share, err := c.Share(cmd.Context(), req)
			if err != nil {
				return err
			}
			if share.Revoked {
				fmt.Fprintln(cmd.OutOrStdout(), "Share revoked")
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Share key: %s\n", share.ShareKey)
			if share.ExpirationTime != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Expires: %s\n", humanize.Time(*share.ExpirationTime))
			}
			if share.HasPassword {
				fmt.Fprintln(cmd.OutOrStdout(), "Password protected")
			}
			return nil
		},
	}
	cmd.Flags().String("password", "", `link password; "" removes it`)
	cmd.Flags().Int("expires", 0, "expiry in hours; 0 removes it")
	cmd.Flags().Bool("revoke", false, "revoke the link")
	return cmd
}
