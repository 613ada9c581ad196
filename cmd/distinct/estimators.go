package main

import (
	"github.com/clarkduvall/distinct"
	"github.com/clarkduvall/distinct/adaptive"
	"github.com/clarkduvall/distinct/bitmap"
	"github.com/clarkduvall/distinct/codec"
	"github.com/clarkduvall/distinct/hyperloglog"
	"github.com/clarkduvall/distinct/loglog"
	"github.com/clarkduvall/distinct/pcsa"
	"github.com/clarkduvall/distinct/probabilistic"
)

type estimator struct {
	kind    codec.Kind
	counter distinct.Counter
	add     func(element []byte) error
}

// adder lifts an Add that can't fail.
func adder(add func([]byte)) func([]byte) error {
	return func(element []byte) error {
		add(element)
		return nil
	}
}

// newEstimator builds the named estimator. The bitmap based ones don't take
// an error rate and use their default layout.
func newEstimator(name string, e float64, ndistinct int) (*estimator, error) {
	kind, err := codec.ParseKind(name)
	if err != nil {
		return nil, err
	}

	est := &estimator{kind: kind}
	switch kind {
	case codec.KindProbabilistic:
		c, err := probabilistic.New(probabilistic.DefaultBytes, probabilistic.DefaultSalts)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	case codec.KindPCSA:
		c, err := pcsa.New(pcsa.DefaultMaps, pcsa.DefaultKeySize)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	case codec.KindLogLog:
		c, err := loglog.New(e)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	case codec.KindSuperLogLog:
		c, err := loglog.NewSuper(e)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	case codec.KindHyperLogLog:
		c, err := hyperloglog.New(e)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	case codec.KindAdaptive:
		c, err := adaptive.New(e, ndistinct)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, c.Add
	case codec.KindBitmap:
		c, err := bitmap.New(e, ndistinct)
		if err != nil {
			return nil, err
		}
		est.counter, est.add = c, adder(c.Add)
	}
	return est, nil
}
