// Package bundlevalidator validates FHIR bundles entry by entry.
//
// A bundle is split into its entries, each entry is validated as an
// independent job on a shared, bounded worker pool, and the findings of
// every job are collected into one Outcome. A failing entry never aborts
// its siblings: its error is logged and it contributes no issues.
//
// # Quick Start
//
//	import (
//	    bv "github.com/gofhir/bundlevalidator"
//	    "github.com/gofhir/bundlevalidator/bundle"
//	    "github.com/gofhir/bundlevalidator/engine"
//	)
//
//	eng := engine.NewFHIRPathEngine()
//	if err := eng.LoadStructureDefinition(profileJSON); err != nil {
//	    log.Fatal(err)
//	}
//
//	v, err := bundle.NewValidator(eng, bv.WithWorkerCount(8))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Close()
//
//	outcome, err := v.ValidateDocument(ctx, bundleJSON)
//	if errors.Is(err, bv.ErrMalformedDocument) {
//	    // client error
//	}
//	body, _ := bv.Render(outcome, bv.FormatOperationOutcome)
//
// # Ordering
//
// Issues in an Outcome are the union of every entry's findings. Their order
// follows job completion and is not guaranteed to match entry order.
//
// # Functional Options
//
//	v, err := bundle.NewValidator(eng,
//	    bv.WithWorkerCount(runtime.NumCPU()),
//	    bv.WithEntryTimeout(10*time.Second),
//	    bv.WithSeverities(bv.SeverityFatal, bv.SeverityError),
//	)
package bundlevalidator
