package env

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luma/ycommand/storage"
	"github.com/luma/ycommand/transport"
)

var _ = Describe("Config", func() {
	var (
		ctx        context.Context
		dotEnvFile string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dotEnvFile = filepath.Join(os.TempDir(), "ycommand-missing.env")
	})

	Describe("loadConfig", func() {
		It("falls back to defaults", func() {
			config, err := loadConfig(ctx, dotEnvFile, envconfig.MapLookuper(map[string]string{}))
			Expect(err).ToNot(HaveOccurred())

			Expect(config.Host).To(Equal("0.0.0.0"))
			Expect(config.Port).To(Equal(7363))
			Expect(config.HTTPPort).To(Equal(7362))
			Expect(config.Reuseport).To(BeTrue())
			Expect(config.DebugHTTP).To(BeFalse())
			Expect(config.LogLevel).To(Equal("info"))
		})

		It("reads credentials and the keyring", func() {
			config, err := loadConfig(ctx, dotEnvFile, envconfig.MapLookuper(map[string]string{
				"YCMD_PORT":            "9000",
				"YCMD_APP_ID":          "myAppId",
				"YCMD_CONSUMER_KEY":    "myConsumerKey",
				"YCMD_CONSUMER_SECRET": "mySecret",
				"YCMD_APP_NAME":        "My App",
				"YCMD_KEYRING":         "otherKey:otherSecret,thirdKey:thirdSecret",
			}))
			Expect(err).ToNot(HaveOccurred())

			Expect(config.Port).To(Equal(9000))
			Expect(config.AppName).To(Equal("My App"))
			Expect(config.Keyring).To(Equal(map[string]string{
				"otherKey": "otherSecret",
				"thirdKey": "thirdSecret",
			}))
		})

		It("rejects a port that is not a number", func() {
			_, err := loadConfig(ctx, dotEnvFile, envconfig.MapLookuper(map[string]string{
				"YCMD_PORT": "ycommand",
			}))
			Expect(err).To(HaveOccurred())
		})

		It("loads the .env file into the environment", func() {
			dir, err := ioutil.TempDir("", "ycommand")
			Expect(err).ToNot(HaveOccurred())
			defer os.RemoveAll(dir)

			file := filepath.Join(dir, ".env.local")
			Expect(ioutil.WriteFile(file, []byte("YCMD_APP_NAME=Dot Env App\n"), 0600)).To(Succeed())
			defer os.Unsetenv("YCMD_APP_NAME")

			config, err := loadConfig(ctx, file, envconfig.OsLookuper())
			Expect(err).ToNot(HaveOccurred())
			Expect(config.AppName).To(Equal("Dot Env App"))
		})

		It("reports a .env file that cannot be parsed", func() {
			dir, err := ioutil.TempDir("", "ycommand")
			Expect(err).ToNot(HaveOccurred())
			defer os.RemoveAll(dir)

			file := filepath.Join(dir, ".env.local")
			Expect(ioutil.WriteFile(file, []byte("not an assignment\n"), 0600)).To(Succeed())

			_, err = loadConfig(ctx, file, envconfig.MapLookuper(map[string]string{}))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SessionCommand", func() {
		It("signs the configured consumer key", func() {
			config := &Config{
				AppID:          "myAppId",
				ConsumerKey:    "myConsumerKey",
				ConsumerSecret: "mySecret",
				AppName:        "My App",
			}

			cmd, err := config.SessionCommand()
			Expect(err).ToNot(HaveOccurred())
			Expect(cmd.Serialize()).To(Equal(
				"SESSION|CREATE|app_id=myAppId&consumer_key=myConsumerKey&secret=52cef81082ce87252a4b1033b0f0bcddbb4dda0a|My App|END",
			))
		})

		It("requires the app credentials", func() {
			config := &Config{ConsumerKey: "myConsumerKey", AppName: "My App"}

			_, err := config.SessionCommand()
			Expect(err).To(MatchError(ErrMissingCredentials))
		})
	})

	Describe("TransportOptions", func() {
		It("adds the configured app to the keyring", func() {
			config := &Config{
				Host:           "127.0.0.1",
				Port:           7363,
				ConsumerKey:    "myConsumerKey",
				ConsumerSecret: "mySecret",
				Keyring:        map[string]string{"otherKey": "otherSecret"},
			}

			store := storage.NewInmemoryStore()
			defer store.Close()

			options := config.TransportOptions(store, zap.NewNop())
			Expect(options.Host).To(Equal("127.0.0.1"))
			Expect(options.Port).To(Equal(7363))
			Expect(options.Store).To(Equal(store))
			Expect(options.Keyring).To(Equal(transport.StaticKeyring{
				"otherKey":      "otherSecret",
				"myConsumerKey": "mySecret",
			}))
		})
	})
})

var _ = Describe("MakeLogger", func() {
	It("builds a logger at the given level", func() {
		log, err := MakeLogger("warn")
		Expect(err).ToNot(HaveOccurred())
		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeFalse())
		Expect(log.Core().Enabled(zapcore.WarnLevel)).To(BeTrue())
	})

	It("defaults to info", func() {
		log, err := MakeLogger("")
		Expect(err).ToNot(HaveOccurred())
		Expect(log.Core().Enabled(zapcore.InfoLevel)).To(BeTrue())
		Expect(log.Core().Enabled(zapcore.DebugLevel)).To(BeFalse())
	})

	It("rejects an unknown level", func() {
		_, err := MakeLogger("chatty")
		Expect(err).To(HaveOccurred())
	})
})
