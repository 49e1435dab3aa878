// Command sbed runs the scheduled buyback engine.
//
// Usage:
//
//	sbed [global flags] <command> [flags] [args]
//
// Commands:
//
//	daemon               resume pending disbursements, then run every treasury on its cron
//	execute <name>       run one cycle now (--strict fails when the window is closed)
//	status <name>        show eligibility and the allocation a cycle would make
//	simulate             split an amount client-side
//	resume               settle disbursements left pending
//	register [name...]   create records for configured treasuries
//	history [name]       show recorded cycles
//	keygen <file>        create an encrypted key file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"go.uber.org/zap"

	"github.com/bitfsorg/libsbe-go/chain"
	"github.com/bitfsorg/libsbe-go/config"
	"github.com/bitfsorg/libsbe-go/disburse"
	"github.com/bitfsorg/libsbe-go/engine"
	"github.com/bitfsorg/libsbe-go/keystore"
	"github.com/bitfsorg/libsbe-go/recorder"
	"github.com/bitfsorg/libsbe-go/scheduler"
	"github.com/bitfsorg/libsbe-go/service"
	"github.com/bitfsorg/libsbe-go/store"
)

type globalFlags struct {
	dataDir  string
	network  string
	logLevel string
	rpcURL   string
	rpcUser  string
	rpcPass  string
}

func main() {
	var g globalFlags
	fs := flag.NewFlagSet("sbed", flag.ExitOnError)
	fs.StringVar(&g.dataDir, "datadir", "", "data directory (default ~/.sbe)")
	fs.StringVar(&g.network, "network", "", "mainnet, testnet or regtest")
	fs.StringVar(&g.logLevel, "loglevel", "", "debug, info, warn or error")
	fs.StringVar(&g.rpcURL, "rpc-url", "", "node JSON-RPC URL (env "+chain.EnvRPCURL+")")
	fs.StringVar(&g.rpcUser, "rpc-user", "", "node RPC user (env "+chain.EnvRPCUser+")")
	fs.StringVar(&g.rpcPass, "rpc-pass", "", "node RPC password (env "+chain.EnvRPCPass+")")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sbed [flags] daemon|execute|status|simulate|resume|register|history|keygen ...")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}
	cmd, args := fs.Arg(0), fs.Args()[1:]

	var err error
	switch cmd {
	case "daemon":
		err = runDaemon(&g)
	case "execute":
		err = runExecute(&g, args)
	case "status":
		err = runStatus(&g, args)
	case "simulate":
		err = runSimulate(args)
	case "resume":
		err = runResume(&g)
	case "register":
		err = runRegister(&g, args)
	case "history":
		err = runHistory(&g, args)
	case "keygen":
		err = runKeygen(&g, args)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sbed %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func runDaemon(g *globalFlags) error {
	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := a.runner.Resume(ctx); err != nil {
		a.log.Warn("resume left disbursements pending", zap.Error(err))
	}

	sched := scheduler.New(a.runner, nil, a.log.Named("scheduler"))
	for _, j := range a.jobs {
		if err := sched.Add(j); err != nil {
			return err
		}
	}
	sched.Start(ctx)
	a.log.Info("sbed running", zap.String("network", a.cfg.Network), zap.Int("treasuries", len(a.jobs)))

	<-ctx.Done()
	a.log.Info("shutdown signal received, waiting for running cycles")
	<-sched.Stop().Done()
	return nil
}

func runExecute(g *globalFlags, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	strict := fs.Bool("strict", false, "fail instead of skipping when the window is closed")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected one treasury name")
	}
	name := fs.Arg(0)

	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	if *strict {
		sr, err := a.runner.Status(ctx, name)
		if err != nil {
			return err
		}
		if err := sr.Require(); err != nil {
			return err
		}
	}

	job, ok := a.job(name)
	if !ok {
		return fmt.Errorf("%w: %s", service.ErrUnknownTreasury, name)
	}
	sched := scheduler.New(a.runner, nil, a.log.Named("scheduler"))
	if err := sched.Add(job); err != nil {
		return err
	}
	rep, err := sched.RunNow(ctx, name)
	if rep != nil {
		printReport(rep)
	}
	return err
}

func printReport(rep *service.Report) {
	fmt.Printf("treasury:    %s\n", rep.Treasury)
	fmt.Printf("status:      %s\n", rep.Status)
	fmt.Printf("balance:     %s BSV\n", recorder.SatoshisToBSV(rep.Balance))
	if rep.Status != engine.Executed {
		return
	}
	fmt.Printf("buyback:     %d\n", rep.Allocation.Buyback)
	fmt.Printf("lp:          %d\n", rep.Allocation.LP)
	fmt.Printf("distribution:%d\n", rep.Allocation.Distribution)
	fmt.Printf("journal:     %s\n", rep.DisbursementID)
	switch {
	case rep.TxID != "":
		fmt.Printf("txid:        %s (fee %d, %d attempts)\n", rep.TxID, rep.Fee, rep.Attempts)
	case rep.Pending:
		fmt.Println("txid:        pending, run `sbed resume`")
	default:
		fmt.Printf("txid:        none, %d sat below dust retained\n", rep.Retained)
	}
}

func runStatus(g *globalFlags, args []string) error {
	if len(args) != 1 {
		return errors.New("expected one treasury name")
	}
	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.close()

	sr, err := a.runner.Status(context.Background(), args[0])
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "treasury\t%s\n", sr.Treasury)
	fmt.Fprintf(w, "record\t%s\n", sr.Key)
	fmt.Fprintf(w, "address\t%s\n", sr.Address)
	fmt.Fprintf(w, "chain tip\t%d\n", sr.TipHeight)
	fmt.Fprintf(w, "balance\t%s BSV\n", recorder.SatoshisToBSV(sr.Balance))
	fmt.Fprintf(w, "phase\t%s\n", sr.Phase)
	fmt.Fprintf(w, "last execution\t%s\n", formatTS(sr.State.LastExecutionTS))
	fmt.Fprintf(w, "interval window\t%s\n", formatTS(sr.NextWindow))
	fmt.Fprintf(w, "balance threshold\t%s BSV\n", recorder.SatoshisToBSV(sr.State.MinAccumulated))
	fmt.Fprintf(w, "would allocate\t%d / %d / %d\n", sr.Simulated.Buyback, sr.Simulated.LP, sr.Simulated.Distribution)
	fmt.Fprintf(w, "pending\t%d\n", sr.Pending)
	return w.Flush()
}

func formatTS(ts int64) string {
	if ts == 0 {
		return "never"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

func runSimulate(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	amount := fs.Uint64("amount", 0, "satoshis to split")
	buyback := fs.Uint("buyback", 0, "buyback basis points")
	lp := fs.Uint("lp", 0, "liquidity basis points")
	dist := fs.Uint("distribution", 0, "distribution basis points")
	_ = fs.Parse(args)

	for _, w := range []uint{*buyback, *lp, *dist} {
		if w > 65535 {
			return fmt.Errorf("weight %d does not fit in 16 bits", w)
		}
	}
	a := engine.Allocate(*amount, uint16(*buyback), uint16(*lp), uint16(*dist))
	fmt.Printf("buyback      %d\n", a.Buyback)
	fmt.Printf("lp           %d\n", a.LP)
	fmt.Printf("distribution %d\n", a.Distribution)
	fmt.Printf("unallocated  %d\n", a.Remainder(*amount))
	if *buyback+*lp+*dist > engine.BPSDenominator {
		fmt.Println("warning: weights exceed 10000 basis points; Execute would reject this record")
	}
	return nil
}

func runResume(g *globalFlags) error {
	a, err := openApp(g, true)
	if err != nil {
		return err
	}
	defer a.close()

	reports, err := a.runner.Resume(context.Background())
	for _, rep := range reports {
		state := "settled"
		if rep.Pending {
			state = "pending"
		}
		fmt.Printf("%s %s %s %s\n", rep.Treasury, rep.DisbursementID, state, rep.TxID)
	}
	return err
}

func runRegister(g *globalFlags, args []string) error {
	a, err := openApp(g, false)
	if err != nil {
		return err
	}
	defer a.close()

	want := make(map[string]bool, len(args))
	for _, n := range args {
		if _, ok := a.treasuries.Find(n); !ok {
			return fmt.Errorf("%w: %s", service.ErrUnknownTreasury, n)
		}
		want[n] = true
	}
	for i := range a.treasuries.Treasuries {
		t := &a.treasuries.Treasuries[i]
		if len(want) > 0 && !want[t.Name] {
			continue
		}
		key, err := service.Provision(a.store, t)
		switch {
		case errors.Is(err, store.ErrStateExists):
			fmt.Printf("%s %s exists, unchanged\n", t.Name, key)
		case err != nil:
			return err
		default:
			fmt.Printf("%s %s created\n", t.Name, key)
		}
	}
	return nil
}

func runHistory(g *globalFlags, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("n", 20, "number of cycles")
	_ = fs.Parse(args)

	a, err := openApp(g, false)
	if err != nil {
		return err
	}
	defer a.close()
	if a.history == nil {
		return errors.New("no history database configured")
	}

	cycles, err := a.history.Recent(fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTREASURY\tOUTCOME\tBALANCE (BSV)\tTXID\tREASON")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatTS(c.Timestamp), c.Treasury, c.Outcome, recorder.SatoshisToBSV(c.Balance), c.TxID, c.Reason)
	}
	return w.Flush()
}

func runKeygen(g *globalFlags, args []string) error {
	if len(args) != 1 {
		return errors.New("expected a key file path")
	}
	password := os.Getenv(config.EnvPassword)
	if password == "" {
		return fmt.Errorf("set %s to the key file password", config.EnvPassword)
	}
	priv, err := ec.NewPrivateKey()
	if err != nil {
		return err
	}
	if err := keystore.Save(args[0], priv, password); err != nil {
		return err
	}
	network := g.network
	if network == "" {
		network = "mainnet"
	}
	addr, err := chain.AddressFromPKH(disburse.PKH(priv), network)
	if err != nil {
		return err
	}
	fmt.Printf("pubkey  %x\naddress %s\n", priv.PubKey().Compressed(), addr)
	return nil
}
