package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"apiflow/pkg/auth"
	"apiflow/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
	Long: `Manage named credential profiles used for request signing.

Profiles are stored using:
  - System keychain (when available)
  - Encrypted vault file (AES-GCM, PBKDF2 key derivation)
  - Environment variables (read-only)

Never share your credentials or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store a credentials profile",
	Long: `Store an access key pair under a profile name.

You will be prompted for:
  - Access key ID
  - Secret access key (hidden)
  - Session token (optional, hidden)
  - Token expiry (only with a session token)
  - Default region (optional)`,
	Example: `  apiflow auth login
  apiflow auth login staging`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout <profile>",
	Short: "Remove a stored profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Long:  `List stored profiles with secrets masked.`,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("initialize credential manager: %w", err)
	}

	reader := bufio.NewReader(os.Stdin)
	name := auth.DefaultProfile
	if len(args) > 0 {
		name = args[0]
	}

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Profile '%s' already exists. Update it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("Access key ID: ")
	keyID, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read access key ID: %w", err)
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return fmt.Errorf("access key ID is required")
	}

	fmt.Print("Secret access key: ")
	secret, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("read secret access key: %w", err)
	}
	if secret == "" {
		return fmt.Errorf("secret access key is required")
	}

	fmt.Print("Session token (press Enter to skip): ")
	token, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("read session token: %w", err)
	}

	var expires time.Time
	if token != "" {
		fmt.Print("Token expires (RFC 3339, press Enter to skip): ")
		input, _ := reader.ReadString('\n')
		if input = strings.TrimSpace(input); input != "" {
			if expires, err = time.Parse(time.RFC3339, input); err != nil {
				return fmt.Errorf("parse expiry: %w", err)
			}
		}
	}

	fmt.Print("Default region (press Enter to skip): ")
	region, _ := reader.ReadString('\n')

	profile := &auth.Profile{
		Name:            name,
		AccessKeyID:     keyID,
		SecretAccessKey: secret,
		SessionToken:    token,
		Region:          strings.TrimSpace(region),
		Expires:         expires,
		LastModified:    time.Now(),
	}
	if err := manager.Store(profile); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Profile saved: %s", name))
	if manager.UsesKeyring() {
		ui.PrintDim("Stored in the system keychain with an encrypted file backup.")
	} else {
		ui.PrintDim("Stored in an encrypted file.")
	}
	ui.PrintDim(fmt.Sprintf("Use it with: apiflow call <operation> --profile %s", name))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("remove profile: %w", err)
	}
	ui.PrintSuccess("Profile removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("initialize credential manager: %w", err)
	}

	profiles, err := manager.List()
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if len(profiles) == 0 {
		ui.PrintInfo("No stored profiles", "use 'apiflow auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Profiles")
	for i, p := range profiles {
		sanitized := auth.SanitizeProfile(p)
		ui.PrintResult(fmt.Sprintf("%d. %s", i+1, sanitized.Name))
		ui.PrintResult(fmt.Sprintf("   Access key ID: %s", sanitized.AccessKeyID))
		ui.PrintResult(fmt.Sprintf("   Secret access key: %s", sanitized.SecretAccessKey))
		if sanitized.Region != "" {
			ui.PrintResult(fmt.Sprintf("   Region: %s", sanitized.Region))
		}
		if !p.Expires.IsZero() {
			state := "expires"
			if p.Expired(time.Now()) {
				state = "expired"
			}
			ui.PrintResult(fmt.Sprintf("   Session token %s: %s", state, p.Expires.Format(time.RFC3339)))
		}
		ui.PrintResult(fmt.Sprintf("   Last modified: %s", sanitized.LastModified.Format("2006-01-02 15:04:05")))
	}
	return nil
}

// readSecret reads a line without echo when stdin is a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
