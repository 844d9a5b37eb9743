// Package sandbox 提供容器内沙箱 API 的领域客户端，包括命令执行、文件操作、端口暴露、Git 克隆和后台进程管理。
//
// 所有操作都通过 client.Client 发送，因此共享同一个传输层（HTTP 或 WebSocket）、熔断器和请求队列。
//
// # 快速开始
//
//	c, err := client.New(&client.Config{BaseURL: "http://127.0.0.1:3000"})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	sb := sandbox.New(c)
//	if _, err = sb.WaitForReady(ctx, sandbox.WithPollInterval(time.Second)); err != nil {
//	    return err
//	}
//
// # 命令执行
//
//	// 同步执行
//	result, err := sb.Commands().Run(ctx, "echo hello",
//	    sandbox.WithEnvs(map[string]string{"MY_VAR": "value"}),
//	    sandbox.WithCwd("/tmp"),
//	    sandbox.WithTimeout(5*time.Second),
//	)
//
//	// 流式执行
//	result, err = sb.Commands().Stream(ctx, "npm install",
//	    sandbox.WithOnStdout(func(data string) { fmt.Print(data) }),
//	    sandbox.WithOnStderr(func(data string) { fmt.Fprint(os.Stderr, data) }),
//	)
//
// # 文件系统
//
//	sb.Files().Write(ctx, "/workspace/main.py", "print('hi')")
//	content, err := sb.Files().Read(ctx, "/workspace/main.py")
//	sb.Files().MakeDir(ctx, "/workspace/data", sandbox.WithRecursive())
//	exists, err := sb.Files().Exists(ctx, "/workspace/data")
//	sb.Files().Delete(ctx, "/workspace/main.py")
//
// # 后台进程
//
//	proc, err := sb.Processes().Start(ctx, "python -m http.server 8080", nil)
//	sb.Ports().Expose(ctx, 8080, "web")
//	err = sb.Processes().StreamLogs(ctx, proc.ID, func(e *sandbox.LogEvent) error {
//	    fmt.Print(e.Data)
//	    return nil
//	})
//
// # 错误处理
//
// 容器返回的结构化错误会被转换为 errors 包中的类型，可通过 errors.As 区分：
//
//	var fileErr *errors.FileError
//	if errors.As(err, &fileErr) {
//	    // 文件不存在、权限不足等
//	}
//
// [IsNotFound] 判断资源是否不存在；熔断器打开时返回 *circuitbreaker.OpenError，请求队列拒绝时返回 queue 包中的错误。
package sandbox
