package cli

import (
	"fmt"
	"net/http"
	"os"

	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/spf13/cobra"
)

var (
	recordFields    map[string]string
	recordPhoto     string
	recordSignature string

	manualNotes string
	manualPhoto string
)

var recordCmd = &cobra.Command{
	Use:   "record <kind>",
	Short: "Submit a field-operation record",
	Long: `Submit a field-operation record. Kinds: pedestrian, vehicle, incident.

The record is written to the remote store, or queued when the device is
offline. Photos and signatures are uploaded to the blob store.

Examples:
  patrol record pedestrian --field name="Alex Doe" --field document=123
  patrol record incident --field description="Broken fence" --photo fence.jpg
  patrol record vehicle --field plate=AB123CD --signature sig.png`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

var manualCmd = &cobra.Command{
	Use:   "manual <code>",
	Short: "Register a manual round visit by checkpoint code",
	Long: `Register a visit to a physical checkpoint outside a scheduled round.

The code is checked against the unit's code list; offline, the cached list
is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runManual,
}

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Manage the cached checkpoint codes",
}

var codesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the unit's checkpoint codes into the local cache",
	RunE:  runCodesRefresh,
}

func init() {
	recordCmd.Flags().StringToStringVarP(&recordFields, "field", "f", nil, "record field (name=value)")
	recordCmd.Flags().StringVar(&recordPhoto, "photo", "", "photo file to attach")
	recordCmd.Flags().StringVar(&recordSignature, "signature", "", "signature image to attach")

	manualCmd.Flags().StringVarP(&manualNotes, "notes", "n", "", "notes about the visit")
	manualCmd.Flags().StringVar(&manualPhoto, "photo", "", "photo file to attach")

	codesCmd.AddCommand(codesRefreshCmd)
}

func runRecord(cmd *cobra.Command, args []string) error {
	kind, err := models.ParseRecordKind(args[0])
	if err != nil {
		return err
	}
	if kind == models.RecordManualRound {
		return fmt.Errorf("use 'patrol manual <code>' for manual rounds")
	}

	data := make(map[string]any, len(recordFields))
	for k, v := range recordFields {
		data[k] = v
	}

	photo, err := readAttachment(recordPhoto)
	if err != nil {
		return err
	}
	signature, err := readAttachment(recordSignature)
	if err != nil {
		return err
	}

	rc, err := device.Submitter.Submit(cmd.Context(), kind, data, photo, signature)
	if err != nil {
		return fmt.Errorf("submit %s: %w", kind, err)
	}
	printReceipt(rc)
	return nil
}

func runManual(cmd *cobra.Command, args []string) error {
	photo, err := readAttachment(manualPhoto)
	if err != nil {
		return err
	}
	rc, err := device.Manual.Register(cmd.Context(), args[0], manualNotes, photo)
	if err != nil {
		return fmt.Errorf("register manual round: %w", err)
	}
	printReceipt(rc)
	return nil
}

func runCodesRefresh(cmd *cobra.Command, args []string) error {
	n, err := device.Manual.RefreshCodes(cmd.Context())
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Println("The unit has no checkpoint codes; the cached list was kept.")
		return nil
	}
	fmt.Printf("Cached %d checkpoint codes.\n", n)
	return nil
}

// readAttachment loads a media file. An empty path means no attachment.
func readAttachment(path string) (*service.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &service.Attachment{Data: data, ContentType: http.DetectContentType(data)}, nil
}

func printReceipt(rc service.Receipt) {
	switch {
	case rc.SavedOffline:
		fmt.Printf("✓ Saved offline (%s/%s); it will sync when the store is reachable.\n", rc.Collection, rc.ID)
	case rc.MediaPending:
		fmt.Printf("✓ Saved %s/%s; media upload queued.\n", rc.Collection, rc.ID)
	default:
		fmt.Printf("✓ Saved %s/%s\n", rc.Collection, rc.ID)
	}
}
