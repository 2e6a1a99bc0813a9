// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mpcsim closes the loop between a controller and the simulated link chain:
// on every tick the plant is linearized at the measured state, the QP is solved and
// the first control is applied for one integration step.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/curioloop/mpcqp/mpc"
	"github.com/curioloop/mpcqp/pdip"
	"github.com/curioloop/mpcqp/plant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type options struct {
	links   int
	horizon int
	steps   int
	dt      float64
	target  float64
	disturb float64
	verbose bool
}

func main() {
	var opt options
	flag.IntVar(&opt.links, "links", 1, "number of links (1 or 3)")
	flag.IntVar(&opt.horizon, "horizon", mpc.DefaultHorizon, "prediction horizon")
	flag.IntVar(&opt.steps, "steps", 200, "number of control ticks")
	flag.Float64Var(&opt.dt, "dt", 0.01, "control period in seconds")
	flag.Float64Var(&opt.target, "target", 0.5, "position reference of every joint")
	flag.Float64Var(&opt.disturb, "disturb", 0, "constant external torque on every joint")
	flag.BoolVar(&opt.verbose, "verbose", false, "print solver iterations")
	flag.Parse()

	cfg := zap.NewDevelopmentConfig()
	if !opt.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(opt, logger); err != nil {
		logger.Fatal("simulation aborted", zap.Error(err))
	}
}

func run(opt options, logger *zap.Logger) error {
	var cfg plant.Config
	switch opt.links {
	case 1:
		cfg = plant.OneLinkConfig()
	case 3:
		cfg = plant.ThreeLinkConfig()
	default:
		return fmt.Errorf("unsupported link count %d", opt.links)
	}
	cfg.Dt = opt.dt
	chain, err := cfg.New()
	if err != nil {
		return err
	}

	set := pdip.DefaultSettings()
	set.Verbose = opt.verbose
	solver, err := mpc.Variant{Links: opt.links, Horizon: opt.horizon}.New(set, nil)
	if err != nil {
		return err
	}
	ctrl := solver.NewController()
	p := ctrl.Params()

	l := opt.links
	x := make([]float64, 2*l)
	u := make([]float64, l)
	for k := 0; k < l; k++ {
		p.QRef()[k] = opt.target
		p.TauExt()[k] = opt.disturb
	}

	var failures int
	for tick := 0; tick < opt.steps; tick++ {
		if err := p.SetState(x[:l], x[l:]); err != nil {
			return err
		}
		if err := chain.Linearize(p.Ad(), p.Bd(), p.Drift(), x, p.UPrev(), p.TauExt()); err != nil {
			return err
		}

		res, err := ctrl.Solve()
		switch {
		case err == nil:
			copy(u, ctrl.FirstControl())
		case errors.Is(err, pdip.ErrMaxIterations):
			// best effort iterate
			copy(u, ctrl.FirstControl())
			logger.Warn("solver hit the iteration limit", zap.Int("tick", tick), zap.Float64("gap", res.Gap))
		default:
			// hold the last good control
			failures++
			logger.Warn("solve failed, holding control", zap.Int("tick", tick), zap.Error(err))
		}

		chain.Step(x, u, p.TauExt())
		copy(p.UPrev(), u)

		logger.Debug("tick",
			zap.Int("tick", tick),
			zap.Stringer("status", res.Status),
			zap.Int("iters", res.NumIter),
			zap.Duration("elapsed", res.Elapsed),
			zap.Float64s("q", x[:l]),
			zap.Float64s("qd", x[l:]),
			zap.Float64s("u", u),
		)
	}

	logger.Info("simulation finished",
		zap.Stringer("variant", solver.Variant()),
		zap.Int("steps", opt.steps),
		zap.Int("failures", failures),
		zap.Float64s("q", x[:l]),
	)
	return nil
}
