// llmchat is a thin CLI front end for one-shot or interactive chat against
// a locally loaded engine, with optional token analysis. It talks to the
// engine directly rather than through the stdio protocol.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmstdio/internal/common/fsutil"
	"llmstdio/internal/engine"
	"llmstdio/pkg/types"
)

func main() {
	_ = godotenv.Load()
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("llmchat failed")
	}
}

func newRootCmd() *cobra.Command {
	var (
		filePath  string
		maxTokens int
		verbose   bool
		tokenOnly bool
	)

	root := &cobra.Command{
		Use:   "llmchat <engine-config.json> [prompt]",
		Short: "Streaming LLM chat with token analysis",
		Long: "Interactive mode:  llmchat <engine-config.json>\n" +
			"Direct text:       llmchat <engine-config.json> \"your prompt here\"\n" +
			"File input:        llmchat <engine-config.json> -f prompt.txt",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 2 {
				prompt = args[1]
			}
			return runChat(args[0], prompt, filePath, maxTokens, verbose, tokenOnly)
		},
	}

	root.Flags().StringVarP(&filePath, "file", "f", "", "Read prompt from file")
	root.Flags().IntVarP(&maxTokens, "max-tokens", "m", 100, "Max new tokens to generate")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed token-by-token breakdown")
	root.Flags().BoolVarP(&tokenOnly, "token-only", "t", false, "Analyze tokens only, skip inference")

	return root
}

func runChat(configArg, prompt, filePath string, maxTokens int, verbose, tokenOnly bool) error {
	configPath, err := fsutil.ExpandHome(configArg)
	if err != nil {
		return err
	}
	fmt.Printf("Loading LLM with config: %s\n", configPath)
	if !engine.Built() {
		fmt.Println("Warning: this binary was built without the llama runtime; inference will fail.")
	}

	eng, err := engine.New(engine.Config{ConfigPath: configPath, TmpPath: "tmp"})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Load(); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	eng.Tune(engine.TuneEncoderOps, engine.DefaultTuneCandidates)
	fmt.Println("LLM loaded and optimized successfully!")

	text, err := resolvePrompt(prompt, filePath)
	if err != nil {
		return err
	}
	if text == "" {
		fmt.Println("No input text provided. Exiting.")
		return nil
	}

	tokens := eng.TokenizerEncode(text)
	if verbose {
		printTokenBreakdown(eng, text, tokens)
	}
	if tokenOnly {
		fmt.Println("\n--- Token-Only Mode (No LLM Inference) ---")
		return nil
	}

	fmt.Println("\n--- LLM Streaming Response ---")
	fmt.Println("====================")
	msgs := []types.ChatMessage{{Role: types.RoleUser, Content: text}}
	if err := eng.Respond(context.Background(), msgs, os.Stdout, maxTokens); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	fmt.Println("\n====================")

	printStats(eng.Counters())
	return nil
}

func resolvePrompt(prompt, filePath string) (string, error) {
	if filePath != "" {
		b, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("read prompt file: %w", err)
		}
		fmt.Printf("Reading from file: %s\n", filePath)
		return string(b), nil
	}
	if prompt != "" {
		fmt.Printf("Text from command line: %s\n", prompt)
		return prompt, nil
	}
	fmt.Println("Enter text (Ctrl+D to exit):")
	fmt.Print("> ")
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		return "", sc.Err()
	}
	return sc.Text(), nil
}

func printTokenBreakdown(eng engine.Engine, text string, tokens []int) {
	fmt.Println("\n--- Token Analysis (Verbose) ---")
	fmt.Printf("Prompt: %q\n", text)
	fmt.Printf("Token count: %d\n", len(tokens))

	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, fmt.Sprintf("%d", t))
	}
	fmt.Printf("Token array: [%s]\n", strings.Join(parts, ", "))

	fmt.Println("\n--- Detailed Token Breakdown ---")
	fmt.Println("Index\tToken\tDecoded Text")
	for i, t := range tokens {
		decoded := eng.TokenizerDecode(t)
		if decoded == "" {
			fmt.Printf("%d\t%d\t(not available)\n", i, t)
			continue
		}
		fmt.Printf("%d\t%d\t%q\n", i, t, decoded)
	}
}

func printStats(ctr types.Counters) {
	fmt.Println("\n--- Inference Statistics ---")
	fmt.Printf("Prompt tokens: %d\n", ctr.PromptLen)
	fmt.Printf("Generated tokens: %d\n", ctr.GenSeqLen)
	fmt.Printf("Total tokens processed: %d\n", ctr.AllSeqLen)
	if ctr.PrefillUS > 0 {
		fmt.Printf("Prefill time: %.2f ms\n", float64(ctr.PrefillUS)/1000.0)
		fmt.Printf("Prefill speed: %.2f tokens/sec\n", float64(ctr.PromptLen)*1e6/float64(ctr.PrefillUS))
	}
	if ctr.DecodeUS > 0 {
		fmt.Printf("Decode time: %.2f ms\n", float64(ctr.DecodeUS)/1000.0)
		fmt.Printf("Decode speed: %.2f tokens/sec\n", float64(ctr.GenSeqLen)*1e6/float64(ctr.DecodeUS))
	}
}
