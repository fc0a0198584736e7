package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"serial-batch/pkg/config"
	"serial-batch/pkg/serial"
)

var (
	// Config command flags
	configPort        string
	configBaudRate    int
	configDataBits    int
	configStopBits    int
	configParity      string
	configTimeout     time.Duration
	configEOL         string
	configDescription string
	configForce       bool
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage serial port profiles and settings",
	Long: `Manage saved serial port profiles and the settings file.

A profile stores port settings and a line ending under a name that
'serial-batch run --profile <name>' can reuse.`,
}

// saveCmd saves a profile
var saveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Save a serial port profile",
	Long: `Save serial port settings under a given name.

Example:
  serial-batch config save modem -p /dev/ttyUSB0 -b 115200 --eol crlf`,
	Args: cobra.ExactArgs(1),
	RunE: runSaveConfig,
}

// listConfigCmd lists all profiles
var listConfigCmd = &cobra.Command{
	Use:     "list",
	Short:   "List all saved profiles",
	Aliases: []string{"ls"},
	RunE:    runListConfigs,
}

// deleteCmd deletes a profile
var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Long: `Delete a saved serial port profile.

Example:
  serial-batch config delete modem`,
	Aliases: []string{"rm", "remove"},
	Args:    cobra.ExactArgs(1),
	RunE:    runDeleteConfig,
}

// showCmd shows details of a profile
var showCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show details of a saved profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowConfig,
}

// initSettingsCmd writes a settings file with default values
var initSettingsCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default settings file",
	RunE:  runInitSettings,
}

func init() {
	configCmd.AddCommand(saveCmd)
	configCmd.AddCommand(listConfigCmd)
	configCmd.AddCommand(deleteCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(initSettingsCmd)

	saveCmd.Flags().StringVarP(&configPort, "port", "p", "", "serial port")
	saveCmd.Flags().IntVarP(&configBaudRate, "baud", "b", 115200, "baud rate")
	saveCmd.Flags().IntVarP(&configDataBits, "data", "d", 8, "data bits")
	saveCmd.Flags().IntVarP(&configStopBits, "stop", "s", 1, "stop bits")
	saveCmd.Flags().StringVar(&configParity, "parity", "none", "parity")
	saveCmd.Flags().DurationVarP(&configTimeout, "timeout", "t", 100*time.Millisecond, "read timeout")
	saveCmd.Flags().StringVar(&configEOL, "eol", "crlf", "line ending (none, lf, crlf)")
	saveCmd.Flags().StringVar(&configDescription, "description", "", "free-form description")
	saveCmd.MarkFlagRequired("port")

	initSettingsCmd.Flags().BoolVarP(&configForce, "force", "f", false, "overwrite an existing settings file")
}

func profileManager() (*config.FileConfigManager, error) {
	dir, err := resolveConfigDir()
	if err != nil {
		return nil, err
	}
	return config.NewFileConfigManager(dir), nil
}

func runSaveConfig(cmd *cobra.Command, args []string) error {
	eol, err := serial.ParseLineEnding(configEOL)
	if err != nil {
		return err
	}

	profile := config.Profile{
		Name: args[0],
		Config: serial.SerialConfig{
			Port:     configPort,
			BaudRate: configBaudRate,
			DataBits: configDataBits,
			StopBits: configStopBits,
			Parity:   configParity,
			Timeout:  configTimeout,
		},
		LineEnding:  eol,
		Description: configDescription,
	}

	fcm, err := profileManager()
	if err != nil {
		return err
	}

	if err := fcm.SaveProfile(profile); err != nil {
		return fmt.Errorf("error saving profile: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile '%s' saved successfully.\n", profile.Name)
	fmt.Fprintf(out, "  Port: %s\n", profile.Config.Port)
	fmt.Fprintf(out, "  Settings: %s\n", profile.Config.Summary())
	fmt.Fprintf(out, "  Line ending: %s\n", profile.LineEnding)
	fmt.Fprintf(out, "  Timeout: %v\n", profile.Config.Timeout)
	return nil
}

func runListConfigs(cmd *cobra.Command, args []string) error {
	fcm, err := profileManager()
	if err != nil {
		return err
	}

	profiles, err := fcm.ListProfiles()
	if err != nil {
		return fmt.Errorf("error listing profiles: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No saved profiles found.")
		fmt.Fprintln(out, "\nUse 'serial-batch config save <name>' to save a profile.")
		return nil
	}

	fmt.Fprintf(out, "Found %d saved profile(s):\n\n", len(profiles))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPORT\tSETTINGS\tEOL\tLAST USED")
	fmt.Fprintln(w, "----\t----\t--------\t---\t---------")

	for _, p := range profiles {
		lastUsed := "Never"
		if !p.LastUsedAt.IsZero() {
			lastUsed = p.LastUsedAt.Format("2006-01-02 15:04")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name,
			p.Config.Port,
			p.Config.Summary(),
			p.LineEnding,
			lastUsed)
	}

	w.Flush()

	fmt.Fprintln(out, "\nUse 'serial-batch run <script> --profile <name>' to run with a profile.")
	return nil
}

func runDeleteConfig(cmd *cobra.Command, args []string) error {
	name := args[0]

	fcm, err := profileManager()
	if err != nil {
		return err
	}

	if err := fcm.DeleteProfile(name); err != nil {
		return fmt.Errorf("error deleting profile '%s': %w", name, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Profile '%s' deleted successfully.\n", name)
	return nil
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	name := args[0]

	fcm, err := profileManager()
	if err != nil {
		return err
	}

	profiles, err := fcm.ListProfiles()
	if err != nil {
		return fmt.Errorf("error loading profiles: %w", err)
	}

	var found *config.Profile
	for i := range profiles {
		if profiles[i].Name == name {
			found = &profiles[i]
			break
		}
	}

	if found == nil {
		return fmt.Errorf("%w: %s", config.ErrNotFound, name)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Profile: %s\n", found.Name)
	fmt.Fprintln(out, strings.Repeat("=", len(found.Name)+9))
	if found.Description != "" {
		fmt.Fprintf(out, "Description: %s\n", found.Description)
	}
	fmt.Fprintf(out, "Port:        %s\n", found.Config.Port)
	fmt.Fprintf(out, "Baud Rate:   %d\n", found.Config.BaudRate)
	fmt.Fprintf(out, "Data Bits:   %d\n", found.Config.DataBits)
	fmt.Fprintf(out, "Stop Bits:   %d\n", found.Config.StopBits)
	fmt.Fprintf(out, "Parity:      %s\n", found.Config.Parity)
	fmt.Fprintf(out, "Timeout:     %v\n", found.Config.Timeout)
	fmt.Fprintf(out, "Line Ending: %s\n", found.LineEnding)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Created:     %s\n", found.CreatedAt.Format(time.RFC3339))

	if !found.LastUsedAt.IsZero() {
		fmt.Fprintf(out, "Last Used:   %s\n", found.LastUsedAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Last Used:   Never\n")
	}

	return nil
}

func runInitSettings(cmd *cobra.Command, args []string) error {
	path := settingsPath
	if path == "" {
		dir, err := resolveConfigDir()
		if err != nil {
			return err
		}
		path = config.SettingsPath(dir)
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("settings file %s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to check settings file: %w", err)
	}

	if err := config.SaveSettings(path, config.DefaultSettings()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Settings written to %s\n", path)
	return nil
}
