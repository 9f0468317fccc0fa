package uexec

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
)

const (
	STDIN  = 0
	STDOUT = 1
	STDERR = 2
)

// A child process to be run
type Child struct {
	Args     []string    // [0] is FULL path to command (see exec.LookPath)
	Dir      string      //
	ChildIo  [3]*os.File // child's stdin, stdout, stderr
	ParentIo [3]*os.File // parent's connection to child's stdin, stdout, stderr
	Env      []string    //
	Process  *os.Process
	State    *os.ProcessState   // set when process completes
	Context  context.Context    //
	Cancel   context.CancelFunc //
}

// create a child
func NewChild(args ...string) (this *Child) {
	return &Child{Args: args}
}

var devNull_ *os.File = func() *os.File {
	f, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		panic(err)
	}
	return f
}()

// map the specified fd to /dev/null
func (this *Child) SetDevNull(io int) (err error) {
	switch io {
	case STDIN, STDOUT, STDERR:
		this.ChildIo[io] = devNull_
	default:
		err = errors.New("io must be 0, 1, 2")
	}
	return
}

// map the specified fd to a pipe
func (this *Child) AddPipe(io int) (err error) {
	r, w, err := os.Pipe()
	if err != nil {
		return
	}
	switch io {
	case STDIN:
		this.ChildIo[STDIN] = r
		this.ParentIo[STDIN] = w
	case STDOUT, STDERR:
		this.ChildIo[io] = w
		this.ParentIo[io] = r
	default:
		r.Close()
		w.Close()
		err = errors.New("io must be 0, 1, 2")
	}
	return
}

// close all the child side fd's related to this
func (this *Child) closeChildIo() {
	for i, f := range this.ChildIo {
		if nil != f && devNull_ != f {
			f.Close()
		}
		this.ChildIo[i] = nil
	}
}

// close all the parent side fd's related to this
func (this *Child) CloseParentIo() {
	for i, f := range this.ParentIo {
		if nil != f && devNull_ != f {
			f.Close()
		}
		this.ParentIo[i] = nil
	}
}

// close all the fd's related to this
func (this *Child) Close() {
	this.closeChildIo()
	this.CloseParentIo()
	cancel := this.Cancel
	if nil != cancel {
		cancel()
	}
}

// start a command concurrently
func (this *Child) Start() (err error) {
	if nil != this.Process {
		return errors.New("uexec: already started")
	}
	this.State = nil

	cmd := this.Args[0]
	if '/' != cmd[0] && '.' != cmd[0] {
		cmd, err = exec.LookPath(cmd)
		if err != nil {
			return
		}
	}
	proc, err := os.StartProcess(cmd, this.Args,
		&os.ProcAttr{
			Dir:   this.Dir,
			Files: this.ChildIo[:],
			Env:   this.Env,
		})
	this.closeChildIo() // we no longer need these - they're the childs

	ctx := this.Context
	if nil != proc && nil != ctx {
		go func() {
			<-ctx.Done()
			if nil == this.State {
				proc.Kill()
			}
		}()
	}
	this.Process = proc
	return
}

// wait for a Start()ed command to finish
func (this *Child) Wait() (err error) {
	if nil != this.State {
		return
	} else if nil == this.Process {
		return errors.New("uexec: not started")
	}
	this.State, err = this.Process.Wait()
	this.CloseParentIo()
	cancel := this.Cancel
	if nil != cancel {
		cancel()
	}
	return
}

// get the exit status of the completed command
func (this *Child) Status() (exitCode int, err error) {
	if nil == this.State {
		err = errors.New("uexec: not waited for")
		return
	}

	// This works on both Unix and Windows. Although package
	// syscall is generally platform dependent, WaitStatus is
	// defined for both Unix and Windows and in both cases has
	// an ExitStatus() method with the same signature.
	if status, ok := this.State.Sys().(syscall.WaitStatus); ok {
		exitCode = status.ExitStatus()
	} else {
		err = errors.New("uexec: unable to obtain exit code")
	}
	return
}
