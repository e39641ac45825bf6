package setup

import (
	"context"

	"github.com/pys60/pysbuild/internal/config"
)

// OBB is the one button build: configure, build for emulator and device,
// ensymble, SDK zip and SIS packages.
func (e *Env) OBB(ctx context.Context, opts config.ConfigureOptions) error {
	if _, err := e.Configure(ctx, opts); err != nil {
		return err
	}
	if err := e.Build(ctx, BuildOptions{}); err != nil {
		return err
	}
	if err := e.GenerateEnsymble(ctx); err != nil {
		return err
	}
	if _, err := e.BdistSDK(ctx, false); err != nil {
		return err
	}
	return e.BdistSIS(ctx, opts.KeyDir, opts.Key)
}

// TestDeviceLocal runs the device test suite against a locally attached
// phone.
func (e *Env) TestDeviceLocal(ctx context.Context) error {
	return e.Tools.Python(ctx, e.path("../test"), "test_device.py", "local")
}

// TestDeviceRemote runs the device test suite on the remote device farm.
func (e *Env) TestDeviceRemote(ctx context.Context) error {
	if _, err := e.Snapshot(); err != nil {
		return err
	}
	return e.Tools.Python(ctx, e.path("../test"), "test_device.py", "remote")
}
