package banks

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pointaudio/pointaudio/internal/conf"
	"github.com/pointaudio/pointaudio/internal/errors"
	"github.com/pointaudio/pointaudio/internal/studio"
)

var checkSamples bool

// Command creates the banks command, which validates and lists a bank manifest.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "banks <manifest>",
		Short: "Validate and list a bank manifest",
		Long:  "Load a bank by name from the bank path, or by path to its YAML file, validate its event GUIDs and parameters, and list its contents.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, name := locate(args[0], settings.Audio.BankPath)
			bank, err := studio.LoadBankManifest(dir, name)
			if err != nil {
				return err
			}
			if checkSamples {
				if err := missingSamples(bank); err != nil {
					return err
				}
			}
			return printBank(cmd.OutOrStdout(), bank)
		},
	}

	cmd.Flags().BoolVar(&checkSamples, "check-samples", false, "Fail when a referenced sample file does not exist")

	return cmd
}

// locate splits a manifest argument into bank directory and name. Bare
// names resolve against bankPath.
func locate(arg, bankPath string) (dir, name string) {
	if ext := filepath.Ext(arg); ext == ".yaml" || ext == ".yml" {
		return filepath.Dir(arg), strings.TrimSuffix(filepath.Base(arg), ext)
	}
	return bankPath, arg
}

func missingSamples(bank *studio.Bank) error {
	var errs []error
	for _, ev := range bank.Events {
		path := bank.SamplePath(ev)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("event %q: %w", ev.Path, err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.New(errors.Join(errs...)).
		Component("cli").
		Category(errors.CategoryFileIO).
		Context("bank", bank.Name).
		Build()
}

func printBank(out io.Writer, bank *studio.Bank) error {
	fmt.Fprintf(out, "bank %s: %d events, %d global parameters\n\n", bank.Name, len(bank.Events), len(bank.GlobalParameters))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tID\t3D\tLOOP\tLENGTH\tPARAMETERS")
	for _, ev := range bank.Events {
		length := "-"
		if ev.Length > 0 {
			length = ev.Length.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\t%s\n",
			ev.Path, ev.GUID(), ev.Is3D, ev.Loop, length, describeParams(ev.Parameters))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(bank.GlobalParameters) > 0 {
		fmt.Fprintf(out, "\nglobal: %s\n", describeParams(bank.GlobalParameters))
	}
	return nil
}

func describeParams(params []studio.ParameterDefinition) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = fmt.Sprintf("%s[%g..%g]=%g", p.Name, p.Min, p.Max, p.Default)
	}
	return strings.Join(parts, " ")
}
