package cli

import (
	"context"
	"fmt"

	"github.com/vburojevic/crashwatch/internal/crashstore"
	"github.com/vburojevic/crashwatch/internal/domain"
	"github.com/vburojevic/crashwatch/internal/output"
)

// RecordsCmd groups crash record inspection commands
type RecordsCmd struct {
	List  RecordsListCmd  `cmd:"" default:"withargs" help:"List crash records without consuming them"`
	Drain RecordsDrainCmd `cmd:"" help:"Consume crash records and print them"`
}

// RecordsLocation selects a crash directory. Without flags the location of
// the last supervised session is used.
type RecordsLocation struct {
	RootDir      string `type:"path" help:"Root directory of the crash records"`
	ExtensionID  string `help:"Extension id below the root directory"`
	Backend      string `default:"${config_backend}" enum:"file,sqlite" help:"Crash store backend (file, sqlite)"`
	RecordFormat string `default:"${config_record_format}" enum:"json,plist" help:"Record document format for the file backend"`
}

func (l *RecordsLocation) resolve(globals *Globals) (domain.Location, error) {
	if l.RootDir != "" || l.ExtensionID != "" {
		if l.RootDir == "" || l.ExtensionID == "" {
			return domain.Location{}, outputErrorCommon(globals, codeInvalidFlags,
				"--root-dir and --extension-id must be given together")
		}
		return domain.Location{RootDir: l.RootDir, ExtensionID: l.ExtensionID}, nil
	}

	path, err := defaultLastSessionPath()
	if err != nil {
		return domain.Location{}, outputErrorCommon(globals, codeInvalidFlags, err.Error(), "pass --root-dir and --extension-id")
	}
	last, err := loadLastSession(path)
	if err != nil {
		return domain.Location{}, outputErrorCommon(globals, codeInvalidFlags,
			fmt.Sprintf("failed to read %s: %v", path, err), "pass --root-dir and --extension-id")
	}
	if last == nil {
		return domain.Location{}, outputErrorCommon(globals, codeInvalidFlags,
			"no crash directory given", "pass --root-dir and --extension-id, or run supervise first")
	}
	globals.Debug("Using location of last session %s", last.SessionID)
	return last.Location(), nil
}

func (l *RecordsLocation) open(globals *Globals) (crashstore.Store, error) {
	if err := validateStoreFlags(globals, l.Backend, l.RecordFormat); err != nil {
		return nil, err
	}
	loc, err := l.resolve(globals)
	if err != nil {
		return nil, err
	}

	opts := crashstore.Options{Retry: crashstore.DefaultRetryPolicy()}
	if globals.Config != nil {
		if fromConfig, err := globals.Config.Store.Options(); err == nil {
			opts = fromConfig
		}
	}
	opts.Backend = l.Backend
	opts.RecordFormat = l.RecordFormat

	opener, err := crashstore.NewOpener(opts)
	if err != nil {
		return nil, outputErrorCommon(globals, codeStoreOpen, err.Error())
	}
	store, err := opener(loc)
	if err != nil {
		return nil, outputErrorCommon(globals, codeStoreOpen, err.Error(), "check the directory exists and is writable")
	}
	return store, nil
}

// RecordsListCmd prints every valid record
type RecordsListCmd struct {
	RecordsLocation
}

// Run executes the records list command
func (c *RecordsListCmd) Run(globals *Globals) error {
	store, err := c.open(globals)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(context.Background())
	if err != nil {
		return outputErrorCommon(globals, codeStoreIO, err.Error())
	}

	if globals.Format == "ndjson" {
		w := output.NewNDJSONWriter(globals.Stdout)
		for _, rec := range records {
			if err := w.WriteRecord(store.Location(), rec, false); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		fmt.Fprintln(globals.Stdout, muted(globals, "No crash records in "+store.Location().Dir()))
		return nil
	}
	fmt.Fprintln(globals.Stdout, heading(globals, fmt.Sprintf("Crash records in %s:", store.Location().Dir())))
	return output.WriteRecordTable(globals.Stdout, store.Location(), records)
}

// RecordsDrainCmd consumes records the way a detector relay does, for
// recovering crash reports when no host is running
type RecordsDrainCmd struct {
	RecordsLocation
	Output string `short:"o" type:"path" help:"Also append drained records to this file"`
}

// Run executes the records drain command
func (c *RecordsDrainCmd) Run(globals *Globals) error {
	store, err := c.open(globals)
	if err != nil {
		return err
	}
	defer store.Close()

	var fileOut *output.NDJSONWriter
	if c.Output != "" {
		f, err := openSink(c.Output)
		if err != nil {
			return outputErrorCommon(globals, codeStoreIO, err.Error())
		}
		defer f.Close()
		fileOut = output.NewNDJSONWriter(f)
	}

	ndjson := output.NewNDJSONWriter(globals.Stdout)
	var drained []domain.CrashRecord
	stats, err := store.ScanAndDrain(context.Background(), func(rec domain.CrashRecord) error {
		if fileOut != nil {
			if err := fileOut.WriteRecord(store.Location(), rec, true); err != nil {
				return err
			}
		}
		if globals.Format == "ndjson" {
			return ndjson.WriteRecord(store.Location(), rec, true)
		}
		drained = append(drained, rec)
		return nil
	})
	if err != nil {
		return outputErrorCommon(globals, codeStoreIO, err.Error(), "records that could not be reported were restored")
	}

	if globals.Format == "ndjson" {
		return ndjson.WriteDrainSummary(store.Location(), stats)
	}
	if len(drained) > 0 {
		if err := output.WriteRecordTable(globals.Stdout, store.Location(), drained); err != nil {
			return err
		}
	}
	return output.NewTextWriter(globals.Stdout, styled(globals)).WriteDrainSummary(store.Location(), stats)
}
