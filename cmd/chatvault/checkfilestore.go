package main

import (
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/cuemby/chatvault/pkg/blobstore"
	"github.com/cuemby/chatvault/pkg/store"
	"github.com/spf13/cobra"
)

var checkFileStoreCmd = &cobra.Command{
	Use:   "check-file-store DATABASE",
	Short: "Verify the blob store matches the files table",
	Long: `Walk the blob directory and the database's files table, reporting
any hash the files table references but that is missing on disk, and any
blob on disk the files table no longer references.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheckFileStore,
}

func init() {
	checkFileStoreCmd.Flags().String("file-store", "", "blob store directory (default: DATABASE-files)")
	checkFileStoreCmd.Flags().Bool("delete-extra-files", false, "delete orphaned blobs found on disk")
	checkFileStoreCmd.Flags().Bool("yes", false, "skip the confirmation prompt before deleting")
}

func runCheckFileStore(cmd *cobra.Command, args []string) error {
	database := args[0]
	fileStore, _ := cmd.Flags().GetString("file-store")
	deleteExtra, _ := cmd.Flags().GetBool("delete-extra-files")
	assumeYes, _ := cmd.Flags().GetBool("yes")

	if fileStore == "" {
		fileStore = database + "-files"
	}

	st, err := store.Open(database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	blobs, err := blobstore.Open(fileStore)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	v, err := st.Read(func(tx *store.Tx) (any, error) {
		return st.AllFileHashes(tx)
	})
	if err != nil {
		return fmt.Errorf("list referenced hashes: %w", err)
	}
	hashes := v.([][]byte)

	if deleteExtra && !assumeYes {
		confirmed, err := confirmDelete(len(hashes))
		if err != nil {
			return err
		}
		if !confirmed {
			deleteExtra = false
		}
	}

	report, err := blobs.CheckConsistency(hashes, deleteExtra)
	if err != nil {
		return fmt.Errorf("check consistency: %w", err)
	}

	fmt.Printf("Referenced hashes: %d\n", len(hashes))
	if len(report.MissingFiles) == 0 {
		fmt.Println("Missing blobs: none")
	} else {
		fmt.Printf("Missing blobs (referenced but absent on disk): %d\n", len(report.MissingFiles))
		for _, hash := range report.MissingFiles {
			fmt.Printf("  %s\n", hash)
		}
	}
	if len(report.ExtraFiles) == 0 {
		fmt.Println("Orphaned blobs: none")
	} else {
		verb := "found"
		if deleteExtra {
			verb = "deleted"
		}
		fmt.Printf("Orphaned blobs (%s): %d\n", verb, len(report.ExtraFiles))
		for _, hash := range report.ExtraFiles {
			fmt.Printf("  %s\n", hash)
		}
	}
	return nil
}

// confirmDelete prompts before a genuinely destructive action: deleting
// blobs from disk can't be undone once gone.
func confirmDelete(referencedCount int) (bool, error) {
	confirmed := false
	prompt := &survey.Confirm{
		Message: fmt.Sprintf("Delete orphaned blobs not among the %d referenced hashes?", referencedCount),
		Default: false,
	}
	if err := survey.AskOne(prompt, &confirmed); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return confirmed, nil
}
