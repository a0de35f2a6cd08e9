package cmd

import (
	"flag"
	"strings"

	"github.com/etnz/gridledger/config"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

// predictFlag guesses what a flag expects from its name.
func predictFlag(f *flag.Flag) complete.Predictor {
	switch {
	case f.Name == "config":
		return predict.Files("*.y*ml")
	case f.Name == "db":
		return predict.Files("*.db")
	case f.Name == "f" || f.Name == "o":
		return predict.Files("*.json")
	case f.Name == "policy":
		return predict.Set{"spread_match", "fifo"}
	case f.DefValue == "false" || f.DefValue == "true":
		return predict.Nothing
	default:
		return predict.Something
	}
}

func flagPredictors(fs *flag.FlagSet) map[string]complete.Predictor {
	flags := make(map[string]complete.Predictor)
	fs.VisitAll(func(f *flag.Flag) { flags[f.Name] = predictFlag(f) })
	return flags
}

// Completion returns the shell completion of the commands registered in c.
// Pairs of the configuration are suggested for -pair.
func Completion(c *subcommands.Commander, top *flag.FlagSet, pairs []string) *complete.Command {
	root := &complete.Command{
		Sub:   make(map[string]*complete.Command),
		Flags: flagPredictors(top),
	}
	c.VisitCommands(func(_ *subcommands.CommandGroup, cmd subcommands.Command) {
		fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
		cmd.SetFlags(fs)
		sub := &complete.Command{Flags: flagPredictors(fs)}
		if _, ok := sub.Flags["pair"]; ok && len(pairs) > 0 {
			sub.Flags["pair"] = predict.Set(pairs)
		}
		root.Sub[cmd.Name()] = sub
	})
	return root
}

// ConfiguredPairs returns the pairs of the configuration file, if it can be read.
func ConfiguredPairs() []string {
	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		return nil
	}
	var pairs []string
	for _, p := range cfg.Pairs {
		pairs = append(pairs, strings.ToUpper(p.Pair))
	}
	return pairs
}
