// Package kiosk provides the Lighthouse audit kiosk as a library that can be
// embedded into other Go applications.
//
// # Overview
//
// A kiosk runs one page audit at a time. Every line the audit engine prints
// is relayed live to the browser over server-sent events; the line carrying
// the score marker ends the run, updates the shared score view and, when
// configured, drives an LED bulb: a white pulse while working, then red,
// orange or green by rating.
//
// # Basic Usage
//
// Load a configuration file and serve:
//
//	k, err := kiosk.NewFromFile("configs/kiosk.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := k.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
// Mount the kiosk under a path of an existing server. Close releases the
// live channel and the light when the host shuts down:
//
//	k, err := kiosk.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer k.Close()
//
//	http.Handle("/audit/", http.StripPrefix("/audit", k.Handler()))
//	http.ListenAndServe(":8080", nil)
//
// # Direct Service Access
//
//	run, err := k.Service().StartRun(ctx, "example.com", true)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	state, err := run.Wait(ctx)
//	fmt.Println(state.Status, *state.Score)
package kiosk
