package protocol_test

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/ycommand/protocol"
)

var _ = Describe("Reading / Writing", func() {
	reader := func(s string) *bufio.Reader {
		return bufio.NewReader(strings.NewReader(s))
	}

	Describe("Parse()", func() {
		It("dispatches on the verb", func() {
			cmd, err := protocol.Parse([]string{"SUBSCRIBED", "SERVICE", "widgetlist", "END"})
			Expect(err).To(Succeed())
			Expect(cmd).To(BeAssignableToTypeOf(&protocol.SubscribedCommand{}))

			cmd, err = protocol.Parse([]string{"UNSUBSCRIBE", "SERVICE", "widgetlist", "END"})
			Expect(err).To(Succeed())
			Expect(cmd).To(BeAssignableToTypeOf(&protocol.UnsubscribeCommand{}))
		})

		It("returns a nil command on failure", func() {
			cmd, err := protocol.Parse([]string{"SUBSCRIBED"})
			Expect(err).To(HaveOccurred())
			Expect(cmd).To(BeNil())
		})

		It("returns ErrUnknownCommand for an unknown verb", func() {
			_, err := protocol.Parse([]string{"EVIL", "SERVICE", "widgetlist", "END"})
			Expect(errors.Is(err, protocol.ErrUnknownCommand)).To(BeTrue())
			Expect(errors.Is(err, protocol.ErrMalformedCommand)).To(BeFalse())
		})

		It("returns ErrEmptyCommand for empty input", func() {
			_, err := protocol.Parse(nil)
			Expect(err).To(MatchError(protocol.ErrEmptyCommand))
		})
	})

	Describe("Tokenize()", func() {
		It("splits on the delimiter and drops the terminator", func() {
			Expect(protocol.Tokenize("UNSUBSCRIBED|SERVICE|widgetlist|END\r\n")).
				To(Equal([]string{"UNSUBSCRIBED", "SERVICE", "widgetlist", "END"}))
		})

		It("returns a single empty token for an empty line", func() {
			Expect(protocol.Tokenize("\n")).To(Equal([]string{""}))
		})
	})

	Describe("ReadCommand()", func() {
		It("parses a line terminated by \\n", func() {
			cmd, err := protocol.ReadCommand(reader("SUBSCRIBED|SERVICE|widgetlist|END\n"))
			Expect(err).To(Succeed())

			ack, ok := cmd.(*protocol.SubscribedCommand)
			Expect(ok).To(BeTrue())
			Expect(ack.Service()).To(Equal("widgetlist"))
		})

		It("parses a line terminated by \\r\\n", func() {
			cmd, err := protocol.ReadCommand(reader("UNSUBSCRIBED|SERVICE|widgetlist|END\r\n"))
			Expect(err).To(Succeed())
			Expect(cmd.Serialize()).To(Equal("UNSUBSCRIBED|SERVICE|widgetlist|END"))
		})

		It("returns io.EOF when there is nothing to read", func() {
			_, err := protocol.ReadCommand(reader(""))
			Expect(err).To(MatchError(io.EOF))
		})

		It("skips past a malformed line", func() {
			r := reader("SUBSCRIBED|SERVICE\nSUBSCRIBED|SERVICE|widgetlist|END\n")

			_, err := protocol.ReadCommand(r)
			Expect(errors.Is(err, protocol.ErrMalformedCommand)).To(BeTrue())

			cmd, err := protocol.ReadCommand(r)
			Expect(err).To(Succeed())
			Expect(cmd.Verb()).To(Equal(protocol.VerbSubscribed))
		})

		It("returns ErrEmptyCommand for a blank line", func() {
			_, err := protocol.ReadCommand(reader("\n"))
			Expect(errors.Is(err, protocol.ErrEmptyCommand)).To(BeTrue())
		})

		It("discards lines that are too long", func() {
			long := strings.Repeat("A", protocol.MaxLineLength+10)
			r := reader(long + "\nSUBSCRIBED|SERVICE|widgetlist|END\n")

			_, err := protocol.ReadCommand(r)
			Expect(err).To(MatchError(protocol.ErrLineTooLong))

			cmd, err := protocol.ReadCommand(r)
			Expect(err).To(Succeed())
			Expect(cmd.Verb()).To(Equal(protocol.VerbSubscribed))
		})
	})

	Describe("ReadLine()", func() {
		It("returns lines that survive the next read", func() {
			// The smallest buffer bufio allows, so the second read refills it
			r := bufio.NewReaderSize(strings.NewReader("0123456789\nabcdefghijklmn\n"), 16)

			first, err := protocol.ReadLine(r)
			Expect(err).To(Succeed())

			second, err := protocol.ReadLine(r)
			Expect(err).To(Succeed())

			Expect(string(first)).To(Equal("0123456789"))
			Expect(string(second)).To(Equal("abcdefghijklmn"))
		})
	})

	Describe("WriteCommand()", func() {
		It("writes the serialised command and a newline", func() {
			w := bytes.NewBuffer([]byte{})

			cmd, err := protocol.NewSubscribeCommand("widgetlist")
			Expect(err).To(Succeed())

			Expect(protocol.WriteCommand(w, cmd)).To(Succeed())
			Expect(w.String()).To(Equal("SUBSCRIBE|SERVICE|widgetlist|END\n"))
		})

		It("writes nothing when the command cannot be serialised", func() {
			w := bytes.NewBuffer([]byte{})

			cmd := protocol.NewCreateSessionCommand("myAppId", "myConsumerKey", "mySecret", "bad\nname")
			Expect(protocol.WriteCommand(w, cmd)).NotTo(Succeed())
			Expect(w.Len()).To(BeZero())
		})

		It("writes several commands in order", func() {
			w := bytes.NewBuffer([]byte{})

			subscribe, err := protocol.NewSubscribeCommand("widgetlist")
			Expect(err).To(Succeed())
			unsubscribe, err := protocol.NewUnsubscribeCommand("widgetlist")
			Expect(err).To(Succeed())

			Expect(protocol.WriteCommands(w, subscribe, unsubscribe)).To(Succeed())
			Expect(w.String()).To(Equal("SUBSCRIBE|SERVICE|widgetlist|END\nUNSUBSCRIBE|SERVICE|widgetlist|END\n"))
		})

		It("round trips through ReadCommand", func() {
			w := bytes.NewBuffer([]byte{})

			line, err := protocol.NewCreateSessionCommand("myAppId", "myConsumerKey", "mySecret", "My App").Serialize()
			Expect(err).To(Succeed())

			req, err := protocol.ParseCreateSessionRequest(protocol.Tokenize(line))
			Expect(err).To(Succeed())
			Expect(protocol.WriteCommand(w, req)).To(Succeed())

			cmd, err := protocol.ReadCommand(bufio.NewReader(w))
			Expect(err).To(Succeed())
			Expect(cmd).To(Equal(req))
		})
	})
})
