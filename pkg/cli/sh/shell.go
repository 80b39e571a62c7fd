package sh

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/fatih/color"
	"github.com/golang/glog"

	"github.com/robotalks/pulselink/pkg/env"
	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
)

// Shell provides ishell backed interactive shell over a sender endpoint.
type Shell struct {
	Interactive bool

	Shell   *ishell.Shell
	Config  *env.Config
	Session *Session
}

// Session is an open sender endpoint. With the sim backend a local
// receiver runs on the same bus.
type Session struct {
	Endpoint *env.Endpoint
	Sender   *link.Sender

	onByte   func(*link.ByteReceived)
	loopback *env.Endpoint
	receiver *link.Receiver
	cancel   func()
	done     chan struct{}
}

const (
	shellKey     = "$shell"
	closedPrompt = "[closed] > "
)

var (
	evalOnly bool

	commands = []*ishell.Cmd{
		&OpenCmd,
		&CloseCmd,
		&SendCmd,
		&LevelsCmd,
		&VariantCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
}

// AddCmds adds more commands, used during init.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *env.Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		Shell:       ishell.New(),
		Config:      conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(closedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeOpen wraps a command func requiring an open session.
func MustBeOpen(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Session == nil {
			c.Err(fmt.Errorf("link not open"))
			return
		}
		fn(c)
	}
}

// Open binds the sender endpoint.
func (s *Shell) Open() error {
	s.Close()
	sess, err := OpenSession(s.Config, func(msg *link.ByteReceived) {
		s.Shell.Printf("<< %q\n", msg.Text)
	})
	if err != nil {
		return err
	}
	s.Session = sess
	s.Shell.SetPrompt(fmt.Sprintf("[%s %s] > ", s.Config.Backend, s.Config.Variant))
	return nil
}

// Close releases the session.
func (s *Shell) Close() {
	if s.Session == nil {
		return
	}
	s.Session.Close()
	s.Session = nil
	s.Shell.SetPrompt(closedPrompt)
}

// OpenSession binds a sender endpoint. With the sim backend a loopback
// receiver runs on the same bus and reports every byte to onByte.
func OpenSession(conf *env.Config, onByte func(*link.ByteReceived)) (*Session, error) {
	ep, err := conf.NewEndpoint(link.RoleSender)
	if err != nil {
		return nil, err
	}
	sender, err := ep.NewSender()
	if err != nil {
		ep.Close()
		return nil, err
	}
	sess := &Session{Endpoint: ep, Sender: sender, onByte: onByte}
	if conf.Backend == env.BackendSim {
		if err := sess.startLoopback(conf); err != nil {
			ep.Close()
			return nil, err
		}
	}
	return sess, nil
}

func (sess *Session) startLoopback(conf *env.Config) error {
	ep, err := conf.NewEndpoint(link.RoleReceiver)
	if err != nil {
		return err
	}
	r, err := ep.NewReceiver()
	if err != nil {
		ep.Close()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess.loopback, sess.receiver, sess.cancel = ep, r, cancel
	sess.done = make(chan struct{})
	loop := fx.NewLoop().WithInterval(r.Interval)
	loop.AddController(fx.PrLvSense, r)
	loop.AddController(fx.PrLvPostProc, &link.ProgressLog{OnByte: sess.onByte})
	go func(done chan struct{}) {
		defer close(done)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			glog.Errorf("loopback receiver: %v", err)
		}
	}(sess.done)
	return nil
}

func (sess *Session) stopLoopback() {
	if sess.cancel == nil {
		return
	}
	sess.cancel()
	<-sess.done
	sess.loopback.Close()
	sess.loopback, sess.receiver, sess.cancel, sess.done = nil, nil, nil, nil
}

// Loopback reports whether a local receiver is running.
func (sess *Session) Loopback() bool {
	return sess.receiver != nil
}

// SetVariant switches the handshake variant. The data lines are
// cleared first and a loopback receiver restarts on the new variant.
func (sess *Session) SetVariant(conf *env.Config, v link.Variant) error {
	loopback := sess.Loopback()
	sess.stopLoopback()
	if err := sess.Endpoint.Lines.Clear(); err != nil {
		return err
	}
	conf.Variant = v
	sess.Sender.Variant = v
	if loopback {
		return sess.startLoopback(conf)
	}
	return nil
}

// Close releases the endpoints.
func (sess *Session) Close() {
	sess.stopLoopback()
	sess.Endpoint.Close()
}

// Send transmits text and reports how long it took.
func (s *Shell) Send(ctx context.Context, text string) (time.Duration, error) {
	if s.Session == nil {
		return 0, fmt.Errorf("link not open")
	}
	start := time.Now()
	err := s.Session.Sender.SendString(ctx, text)
	return time.Since(start), err
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if err := s.Open(); err != nil {
		log.Fatalln(err)
	}
	defer s.Close()
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var highColor = color.New(color.FgGreen, color.Bold)

// FormatLevels renders line levels as a table row, HIGH highlighted
// unless color is disabled.
func FormatLevels(levels [link.TotalLines]link.Level) string {
	var sb strings.Builder
	for i, level := range levels {
		if i == link.AckIndex-1 {
			sb.WriteString(" | ack ")
		} else if i > 0 {
			sb.WriteByte(' ')
		}
		if level {
			sb.WriteString(highColor.Sprint("1"))
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

var (
	// OpenCmd (re)opens the sender endpoint.
	OpenCmd = ishell.Cmd{
		Name: "open",
		Help: "bind the sender endpoint",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Open(); err != nil {
				c.Err(err)
			}
		},
	}

	// CloseCmd releases the sender endpoint.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "release the sender endpoint",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Close()
		},
	}

	// SendCmd transmits the arguments joined by spaces.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "TEXT...",
		Func: MustBeOpen(func(c *ishell.Context) {
			text := strings.Join(c.Args, " ")
			elapsed, err := ShellFrom(c).Send(context.Background(), text)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("sent %d byte(s) in %v\n", len(text), elapsed.Round(time.Millisecond))
		}),
	}

	// LevelsCmd prints all line levels.
	LevelsCmd = ishell.Cmd{
		Name:    "levels",
		Aliases: []string{"l"},
		Help:    "",
		Func: MustBeOpen(func(c *ishell.Context) {
			levels, err := ShellFrom(c).Session.Endpoint.Lines.Levels()
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(FormatLevels(levels))
		}),
	}

	// VariantCmd shows or switches the handshake variant.
	VariantCmd = ishell.Cmd{
		Name: "variant",
		Help: "[single|double]",
		Func: MustBeOpen(func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) == 0 {
				c.Println(s.Session.Sender.Variant)
				return
			}
			v, err := link.ParseVariant(c.Args[0])
			if err != nil {
				c.Err(err)
				return
			}
			if err := s.Session.SetVariant(s.Config, v); err != nil {
				c.Err(err)
				return
			}
			s.Shell.SetPrompt(fmt.Sprintf("[%s %s] > ", s.Config.Backend, v))
		}),
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(env.NewConfig()).Run(flag.Args()...)
}
