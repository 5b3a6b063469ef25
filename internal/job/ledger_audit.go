package job

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"paymentsledger/internal/config"
	"paymentsledger/internal/infrastructure/mq"
	"paymentsledger/internal/model"
	"paymentsledger/internal/repository"
	"paymentsledger/pkg/money"

	"gorm.io/gorm"
)

// ============================================================================
// 账本审计任务
// ============================================================================
//
// 结算事务本身保证余额与流水同生同灭，剩余的风险在事务提交之后：
// 结算事件可能始终投递不出去（下游对账系统收不到通知）。
//
// 审计任务周期性做两件事，异常通过告警 topic 通知运维：
// 1. 校验最近流水满足账务恒等式
//    commission      = round(sent * commission_rate, 2)
//    received_amount = round((sent - commission) * conversion_rate, 2)
// 2. 扫描发件箱中投递失败（FAILED）的结算事件

type LedgerAuditJob struct {
	db              *gorm.DB
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	cfg             *config.Config
	stopCh          chan struct{}
	interval        time.Duration
	batchSize       int
	alerted         map[int64]bool // 已告警的发件箱消息，避免重复刷屏
}

func NewLedgerAuditJob(db *gorm.DB, cfg *config.Config) *LedgerAuditJob {
	interval := time.Duration(cfg.Business.AuditIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LedgerAuditJob{
		db:              db,
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
		cfg:             cfg,
		stopCh:          make(chan struct{}),
		interval:        interval,
		batchSize:       200,
		alerted:         make(map[int64]bool),
	}
}

func (j *LedgerAuditJob) Start(ctx context.Context) {
	log.Println("[LedgerAudit] 账本审计任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[LedgerAudit] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[LedgerAudit] 任务停止")
			return
		case <-ticker.C:
			j.auditRecentTransactions(ctx)
			j.alertFailedOutbox(ctx)
		}
	}
}

func (j *LedgerAuditJob) Stop() {
	close(j.stopCh)
}

func (j *LedgerAuditJob) auditRecentTransactions(ctx context.Context) {
	records, err := j.transactionRepo.ListRecent(ctx, j.batchSize)
	if err != nil {
		log.Printf("[LedgerAudit] 查询流水失败: %v", err)
		return
	}

	for _, record := range records {
		if reason := VerifyRecord(record); reason != "" {
			log.Printf("[LedgerAudit] 流水校验失败: transactionNo=%s, reason=%s", record.TransactionNo, reason)
			j.publishAlert(map[string]interface{}{
				"kind":           "invariant_violation",
				"transaction_no": record.TransactionNo,
				"reason":         reason,
			}, record.TransactionNo)
		}
	}
}

// VerifyRecord 校验单条流水的账务恒等式，违规时返回原因
func VerifyRecord(record *model.Transaction) string {
	wantCommission := money.Commission(record.SentAmount, record.CommissionRate)
	if !record.Commission.Equal(wantCommission) {
		return "commission mismatch"
	}
	wantReceived := money.ReceivedAmount(record.SentAmount, record.Commission, record.ConversionRate)
	if !record.ReceivedAmount.Equal(wantReceived) {
		return "received_amount mismatch"
	}
	if record.SenderCurrency == record.ReceiverCurrency && !record.ConversionRate.Equal(money.IdentityRate) {
		return "same-currency conversion rate is not 1"
	}
	return ""
}

// alertFailedOutbox 结算事件投递失败意味着账本与下游之间可能不一致，
// 必须让运维看到，而不是静默重试
func (j *LedgerAuditJob) alertFailedOutbox(ctx context.Context) {
	messages, err := j.outboxRepo.GetFailedMessages(ctx, j.batchSize)
	if err != nil {
		log.Printf("[LedgerAudit] 查询失败消息失败: %v", err)
		return
	}

	for _, msg := range messages {
		if j.alerted[msg.ID] {
			continue
		}
		log.Printf("[LedgerAudit] 发现投递失败的结算事件: id=%d, key=%s, retry=%d",
			msg.ID, msg.MessageKey, msg.RetryCount)
		j.publishAlert(map[string]interface{}{
			"kind":        "outbox_delivery_failed",
			"outbox_id":   msg.ID,
			"message_key": msg.MessageKey,
			"topic":       msg.Topic,
			"retry_count": msg.RetryCount,
		}, msg.MessageKey)
		j.alerted[msg.ID] = true
	}
}

func (j *LedgerAuditJob) publishAlert(payload map[string]interface{}, key string) {
	payload["alerted_at"] = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[LedgerAudit] 序列化告警失败: %v", err)
		return
	}
	if err := mq.SendMessage(j.cfg.Kafka.Topic.LedgerAlert, key, string(data)); err != nil {
		// 告警通道也不可用时只能落日志
		log.Printf("[LedgerAudit] 发送告警失败: %v", err)
	}
}
