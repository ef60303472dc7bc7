// Package scenario は銀行APIに対する負荷シナリオと、その実行エンジンを提供する。
//
// 1つの Session は1人の模擬ユーザーを表す。Start で登録、ログイン、
// ウォレット取得を行い、その後 Loop で重み付きアクションを
// クライアントクラスごとの待機時間をはさんで繰り返す。
// 登録かログインに失敗したセッションは ErrStopUser で破棄される。
//
// Engine はセッションをレート制限付きで起動し、ワーカープール上で
// 実行して、アクションごとのメトリクスを集計する。
//
// # アクション
//
// - Check Balance (10): GET /wallets/user
// - View Transactions (8): GET /wallets/transactions
// - External Topup (6): POST /wallets/transactions/topup
// - External Debin (4): 400/404/500 も想定内として成功扱い
// - P2P Transfer (3): 残高10未満ならスキップ、400/404 も成功扱い
//
// # プリセットシナリオ
//
// - smoke: 1ユーザーの疎通確認
// - baseline: 通常負荷
// - stress: 高負荷
// - soak: 長時間実行
// - quick: 短時間の動作確認
//
// # 使用例
//
//	config := scenario.QuickScenario()
//	config.Host = "http://localhost:8080"
//	engine := scenario.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package scenario
