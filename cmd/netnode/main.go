package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	fx "github.com/robotalks/groupnet/pkg/framework"
	"github.com/robotalks/groupnet/pkg/env"
	"github.com/robotalks/groupnet/pkg/groupnet"
)

var (
	groupID     uint
	joinWindow  = 3 * time.Second
	sendPeriod  = time.Second
	metricsAddr string
)

func init() {
	env.SetupFlags()
	flag.UintVar(&groupID, "group", groupID, "Group to join on start, 0 skips joining.")
	flag.DurationVar(&joinWindow, "join", joinWindow, "Group registration window.")
	flag.DurationVar(&sendPeriod, "period", sendPeriod, "Event send period, 0 disables sending.")
	flag.StringVar(&metricsAddr, "metrics", metricsAddr, "Serve /metrics on the address, e.g. :9100.")
}

type app struct {
	node *groupnet.Node
}

// join opens the group for the registration window, reporting the
// count as peers show up.
func (a *app) join(ctx context.Context) error {
	if err := a.node.GroupClear(); err != nil {
		glog.Errorf("group clear fail: %v", err)
	}
	if err := a.node.GroupOpen(uint32(groupID)); err != nil {
		return err
	}
	fmt.Println("Wait for devices to join group...")
	count := -1
	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(joinWindow)
	for {
		select {
		case <-ctx.Done():
			a.node.GroupClose()
			return ctx.Err()
		case <-deadline:
			if err := a.node.GroupClose(); err != nil {
				return err
			}
			n, err := a.node.GroupCount()
			if err != nil {
				return err
			}
			fmt.Printf("Group count:%d final\n", n)
			return nil
		case <-ticker.C:
			n, err := a.node.GroupCount()
			if err != nil {
				glog.Errorf("group count fail: %v", err)
			} else if n != count {
				count = n
				fmt.Printf("Group count:%d\n", n)
			}
		}
	}
}

func (a *app) send(ctx context.Context) error {
	if groupID != 0 {
		if err := a.join(ctx); err != nil {
			return err
		}
	}
	if sendPeriod <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(sendPeriod)
	defer ticker.Stop()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ev := &event{Seq: seq, Str: fmt.Sprintf("grp%d", groupID)}
			seq++
			if _, err := a.node.Send(nil, ev.encode(), 0); err != nil {
				glog.Errorf("send fail: %v", err)
			}
		}
	}
}

func (a *app) recv(ctx context.Context) error {
	buf := make([]byte, eventLen)
	for ctx.Err() == nil {
		src, n, err := a.node.Recv(buf, 100*time.Millisecond)
		if groupnet.CodeOf(err) == groupnet.CodeBufferAcquire {
			continue
		}
		if err != nil {
			return err
		}
		ev, err := decodeEvent(buf[:n])
		if err != nil {
			glog.Errorf("recv from %s: %v", src, err)
			continue
		}
		fmt.Printf("RX %d %q from %s\n", ev.Seq, ev.Str, src)
	}
	return ctx.Err()
}

func serveMetrics(reg *prometheus.Registry) fx.Runnable {
	server := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	return fx.RunFunc(func(ctx context.Context) error {
		return fx.RunWithContextCloser(ctx, server, server.ListenAndServe)
	})
}

func main() {
	flag.Parse()

	node := env.NewConfig().MustNewNode()
	reg := prometheus.NewRegistry()
	node.Metrics = groupnet.NewMetrics(reg)
	if err := node.Init(); err != nil {
		log.Fatalln(err)
	}
	defer node.Deinit()
	fmt.Printf("Node %s ready\n", node.LocalAddr())

	a := &app{node: node}
	runner := fx.NewRunner().HandleSignals().Go(
		fx.NamedRun("send", fx.RunFunc(a.send)),
		fx.NamedRun("recv", fx.RunFunc(a.recv)),
	)
	if metricsAddr != "" {
		runner.Go(fx.NamedRun("metrics", serveMetrics(reg)))
	}
	if err := runner.Wait(); err != nil {
		glog.Errorf("exit: %v", err)
	}
}
