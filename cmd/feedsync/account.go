// ABOUTME: Account commands for adding, listing, validating and removing sync accounts
// ABOUTME: Collects credentials, checks them against the service and stores them before opening the account

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/harper/feedsync/internal/account"
	"github.com/harper/feedsync/internal/config"
	"github.com/harper/feedsync/internal/feedbin"
	"github.com/harper/feedsync/internal/feedly"
	"github.com/harper/feedsync/internal/manager"
	"github.com/harper/feedsync/internal/readerapi"
	"github.com/harper/feedsync/internal/secrets"
)

var accountCmd = &cobra.Command{
	Use:     "account",
	Aliases: []string{"acct"},
	Short:   "Manage sync accounts",
	Long: `Add, list, validate and remove sync accounts.

Account types:
  local      - fetch feeds directly from this device
  feedbin    - Feedbin (username and password)
  readerapi  - a Google Reader compatible service such as FreshRSS or Inoreader
  feedly     - Feedly (OAuth; needs FEEDSYNC_FEEDLY_CLIENT_ID and FEEDSYNC_FEEDLY_CLIENT_SECRET)

Examples:
  feedsync account add local --name "On My Device"
  feedsync account add feedbin --username me@example.com --password-stdin
  feedsync account add readerapi --endpoint https://rss.example.com/api/greader.php --username me
  feedsync account add feedly`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add <type>",
	Short: "Add an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, ok := account.ParseType(args[0])
		if !ok {
			return fmt.Errorf("unknown account type %q: want local, feedbin, readerapi or feedly", args[0])
		}
		name, _ := cmd.Flags().GetString("name")
		username, _ := cmd.Flags().GetString("username")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		return addAccount(cmd, config.AccountConfig{Type: typ, Name: name, Username: username, Endpoint: endpoint})
	},
}

// addAccount collects and stores credentials for ac, then opens the account.
func addAccount(cmd *cobra.Command, ac config.AccountConfig) error {
	switch ac.Type {
	case account.TypeFeedbin, account.TypeReaderAPI:
		if ac.Username == "" {
			return fmt.Errorf("--username is required for %s accounts", ac.Type)
		}
		if ac.Type == account.TypeReaderAPI && ac.Endpoint == "" {
			return fmt.Errorf("--endpoint is required for readerapi accounts")
		}
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		if err := storeBasicCredentials(cmd, ac, password); err != nil {
			return err
		}
	case account.TypeFeedly:
		userID, err := authorizeFeedly(cmd, ac.Endpoint)
		if err != nil {
			return err
		}
		ac.Username = userID
	}

	e, err := mgr.Add(cmd.Context(), ac)
	if err != nil {
		return fmt.Errorf("failed to add account: %w", err)
	}
	color.Green("Added %s account %s", ac.Type, e.Config.ID)
	fmt.Println("Run 'feedsync refresh' to sync it.")
	return nil
}

var accountListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := mgr.Accounts()
		if len(entries) == 0 {
			fmt.Println("No accounts configured. Add one with 'feedsync account add <type>'")
			return nil
		}
		faint := color.New(color.Faint).SprintFunc()
		bold := color.New(color.Bold).SprintFunc()
		for _, e := range entries {
			unread, err := e.Account.UnreadCount(cmd.Context())
			if err != nil {
				return err
			}
			state := ""
			if !e.Config.Active {
				state = faint(" (inactive)")
			}
			fmt.Printf("%s %s%s\n", bold(e.Config.ID), e.Account.Name(), state)
			fmt.Printf("  %s %s", faint("type:"), e.Config.Type)
			if e.Config.Username != "" {
				fmt.Printf("  %s %s", faint("user:"), e.Config.Username)
			}
			fmt.Printf("  %s %d\n", faint("unread:"), unread)
			if last := e.Account.Metadata().LastArticleFetchEndTime; last != nil {
				fmt.Printf("  %s %s\n", faint("last refresh:"), last.Local().Format(config.DateFormatLong))
			}
		}
		return nil
	},
}

var accountValidateCmd = &cobra.Command{
	Use:   "validate <id>",
	Short: "Check an account's stored credentials against its service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := mgr.Account(args[0])
		if err != nil {
			return err
		}
		if err := validateStored(cmd, e.Config); err != nil {
			color.Red("Credentials for %s are not valid", e.Config.ID)
			return err
		}
		color.Green("Credentials for %s are valid", e.Config.ID)
		return nil
	},
}

var accountRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an account and delete its local data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		if _, err := mgr.Account(id); err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Printf("Remove account %s and delete its articles? Type 'yes' to confirm: ", id)
			answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if strings.TrimSpace(answer) != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}
		if err := mgr.Remove(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to remove account: %w", err)
		}
		color.Green("Removed account %s", id)
		return nil
	},
}

var accountEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Include an account in refreshes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(args[0], true)
	},
}

var accountDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Exclude an account from refreshes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(args[0], false)
	},
}

func setActive(id string, active bool) error {
	if err := mgr.SetActive(id, active); err != nil {
		return err
	}
	if active {
		fmt.Printf("Account %s enabled\n", id)
	} else {
		fmt.Printf("Account %s disabled\n", id)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd)
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountValidateCmd)
	accountCmd.AddCommand(accountRemoveCmd)
	accountCmd.AddCommand(accountEnableCmd)
	accountCmd.AddCommand(accountDisableCmd)

	accountAddCmd.Flags().String("name", "", "display name")
	accountAddCmd.Flags().StringP("username", "u", "", "service username or email")
	accountAddCmd.Flags().String("endpoint", "", "API endpoint (required for readerapi)")
	accountAddCmd.Flags().String("password", "", "service password")
	accountAddCmd.Flags().Bool("password-stdin", false, "read the password from stdin")
	accountAddCmd.Flags().String("code", "", "Feedly authorization code (prompted when empty)")
	accountAddCmd.MarkFlagsMutuallyExclusive("password", "password-stdin")

	accountRemoveCmd.Flags().BoolP("yes", "y", false, "skip confirmation")
}

func readPassword(cmd *cobra.Command) (string, error) {
	password, _ := cmd.Flags().GetString("password")
	fromStdin, _ := cmd.Flags().GetBool("password-stdin")
	if password != "" {
		return password, nil
	}
	if !fromStdin {
		fmt.Print("Password: ")
	}
	line, err := readLine(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if line == "" {
		return "", fmt.Errorf("password is required")
	}
	return line, nil
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// storeBasicCredentials validates a username and password with the service
// and stores what the account's delegate will read.
func storeBasicCredentials(cmd *cobra.Command, ac config.AccountConfig, password string) error {
	creds := secrets.Credentials{Type: secrets.TypeBasic, Username: ac.Username, Secret: password}
	switch ac.Type {
	case account.TypeFeedbin:
		valid, err := feedbin.ValidateCredentials(cmd.Context(), httpClient, creds, ac.Endpoint)
		if err != nil {
			return fmt.Errorf("feedbin rejected the credentials: %w", err)
		}
		return store.Set(valid)
	case account.TypeReaderAPI:
		token, err := readerapi.ValidateCredentials(cmd.Context(), httpClient, creds, ac.Endpoint)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}
		if err := store.Set(secrets.Credentials{Type: secrets.TypeReaderBasic, Username: ac.Username, Secret: password}); err != nil {
			return err
		}
		return store.Set(token)
	default:
		return fmt.Errorf("%s accounts do not use passwords", ac.Type)
	}
}

// authorizeFeedly runs the OAuth code flow and stores the tokens under the
// Feedly user id, which it returns.
func authorizeFeedly(cmd *cobra.Command, endpoint string) (string, error) {
	oauth := manager.FeedlyOAuth(cfg, endpoint)
	if oauth == nil {
		return "", fmt.Errorf("feedly needs an OAuth client: set %sFEEDLY_CLIENT_ID and %sFEEDLY_CLIENT_SECRET", config.EnvPrefix, config.EnvPrefix)
	}
	code, _ := cmd.Flags().GetString("code")
	if code == "" {
		fmt.Println("Open this URL, approve access, and paste the code parameter of the page you land on:")
		fmt.Printf("\n  %s\n\n", oauth.AuthCodeURL(uuid.NewString()))
		fmt.Print("Code: ")
		var err error
		if code, err = readLine(cmd.InOrStdin()); err != nil {
			return "", fmt.Errorf("failed to read code: %w", err)
		}
	}
	if code == "" {
		return "", fmt.Errorf("authorization code is required")
	}

	tok, err := oauth.Exchange(cmd.Context(), code)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	creds, err := feedly.ValidateCredentials(cmd.Context(), httpClient, secrets.Credentials{
		Type:   secrets.TypeOAuthAccessToken,
		Secret: tok.AccessToken,
	}, endpoint)
	if err != nil {
		return "", err
	}
	if err := feedly.SaveToken(store, creds.Username, tok); err != nil {
		return "", err
	}
	return creds.Username, nil
}

// validateStored re-checks the credentials an account already holds.
func validateStored(cmd *cobra.Command, ac config.AccountConfig) error {
	ctx := cmd.Context()
	switch ac.Type {
	case account.TypeLocal:
		return nil
	case account.TypeFeedbin:
		creds, err := store.Get(secrets.TypeBasic, ac.Username)
		if err != nil {
			return err
		}
		_, err = feedbin.ValidateCredentials(ctx, httpClient, creds, ac.Endpoint)
		return err
	case account.TypeReaderAPI:
		basic, err := store.Get(secrets.TypeReaderBasic, ac.Username)
		if err != nil {
			return err
		}
		token, err := readerapi.ValidateCredentials(ctx, httpClient, basic, ac.Endpoint)
		if err != nil {
			return err
		}
		return store.Set(token)
	case account.TypeFeedly:
		creds, err := store.Get(secrets.TypeOAuthAccessToken, ac.Username)
		if err != nil {
			return err
		}
		_, err = feedly.ValidateCredentials(ctx, httpClient, creds, ac.Endpoint)
		return err
	default:
		return fmt.Errorf("unknown account type %q", ac.Type)
	}
}
